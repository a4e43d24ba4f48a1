package jwt

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const TokenTypeAccess = "access"

// Claims mirrors the access tokens issued by the account service. Issuance
// lives there; this package only validates.
type Claims struct {
	UserID    string `json:"user_id"`
	Handle    string `json:"handle"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

type Validator struct {
	secret []byte
	issuer string
}

func NewValidator(secret, issuer string) *Validator {
	return &Validator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// ValidateAccessToken checks signature, expiry, issuer and token type and
// returns the authenticated user id.
func (v *Validator) ValidateAccessToken(tokenString string) (uuid.UUID, *Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return uuid.Nil, nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return uuid.Nil, nil, errors.New("invalid token")
	}

	if claims.TokenType != "" && claims.TokenType != TokenTypeAccess {
		return uuid.Nil, nil, errors.New("invalid token type")
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.UserID
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid subject: %w", err)
	}

	return userID, claims, nil
}
