package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type Sort string

const (
	SortNewest Sort = "newest"
	SortOldest Sort = "oldest"
)

func ParseSort(s string) (Sort, error) {
	switch Sort(s) {
	case "", SortNewest:
		return SortNewest, nil
	case SortOldest:
		return SortOldest, nil
	default:
		return "", fmt.Errorf("unknown sort %q", s)
	}
}

// Cursor is the sort key of the last row a page returned. The next page starts
// strictly past it, so concurrent inserts never shift page boundaries.
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        int64     `json:"i"`
}

func (c *Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func DecodeCursor(encoded string) (*Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if cursor.ID <= 0 || cursor.CreatedAt.IsZero() {
		return nil, fmt.Errorf("decode cursor: incomplete sort key")
	}

	return &cursor, nil
}

type Request struct {
	Limit  int
	Cursor *Cursor
	Sort   Sort
}

// ParseRequest clamps the limit and decodes the opaque cursor.
func ParseRequest(limit int, cursor, sort string) (Request, error) {
	req := Request{Limit: limit}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	s, err := ParseSort(sort)
	if err != nil {
		return Request{}, err
	}
	req.Sort = s

	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return Request{}, err
		}
		req.Cursor = c
	}

	return req, nil
}

// Less reports whether key (t, id) sorts strictly before (other, otherID).
func Less(t time.Time, id int64, other time.Time, otherID int64) bool {
	if t.Equal(other) {
		return id < otherID
	}
	return t.Before(other)
}
