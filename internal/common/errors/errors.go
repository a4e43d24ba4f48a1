package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound               = errors.New("resource not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrBadRequest             = errors.New("bad request")
	ErrConflict               = errors.New("conflict")
	ErrInternalError          = errors.New("internal error")
	ErrInvalidThreadParent    = errors.New("invalid thread parent")
	ErrAttachmentUploadFailed = errors.New("attachment upload failed")
	ErrRateLimited            = errors.New("rate limited")
	ErrPayloadTooLarge        = errors.New("payload too large")
)

type AppError struct {
	Code    codes.Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

func NewAppError(code codes.Code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NotFound(message string) *AppError {
	return &AppError{
		Code:    codes.NotFound,
		Message: message,
		Err:     ErrNotFound,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    codes.Unauthenticated,
		Message: message,
		Err:     ErrUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    codes.PermissionDenied,
		Message: message,
		Err:     ErrForbidden,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Code:    codes.InvalidArgument,
		Message: message,
		Err:     ErrBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    codes.AlreadyExists,
		Message: message,
		Err:     ErrConflict,
	}
}

func InvalidThreadParent(message string) *AppError {
	return &AppError{
		Code:    codes.InvalidArgument,
		Message: message,
		Err:     ErrInvalidThreadParent,
	}
}

// AttachmentUploadFailed keeps the upstream cause reachable through errors.Is/As
// while the sentinel identifies the failure class.
func AttachmentUploadFailed(message string, cause error) *AppError {
	return &AppError{
		Code:    codes.Unavailable,
		Message: message,
		Err:     fmt.Errorf("%w: %w", ErrAttachmentUploadFailed, cause),
	}
}

func RateLimited(message string) *AppError {
	return &AppError{
		Code:    codes.ResourceExhausted,
		Message: message,
		Err:     ErrRateLimited,
	}
}

// PayloadTooLarge maps to ResourceExhausted on gRPC and 413 over HTTP.
func PayloadTooLarge(message string) *AppError {
	return &AppError{
		Code:    codes.ResourceExhausted,
		Message: message,
		Err:     ErrPayloadTooLarge,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    codes.Internal,
		Message: message,
		Err:     err,
	}
}

func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GRPCStatus().Err()
	}

	if st, ok := status.FromError(err); ok {
		return st.Err()
	}

	return status.Error(codes.Internal, err.Error())
}

// Code reports the status code carried by err, codes.Internal for foreign errors.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Internal
}

func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrPayloadTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return runtime.HTTPStatusFromCode(Code(err))
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteHTTP renders err as a JSON error body. Internal causes are never exposed.
func WriteHTTP(w http.ResponseWriter, err error) {
	code := Code(err)
	msg := "internal server error"
	var appErr *AppError
	if errors.As(err, &appErr) && code != codes.Internal {
		msg = appErr.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:   kind(err),
		Code:    code.String(),
		Message: msg,
	})
}

func kind(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidThreadParent):
		return "invalid_thread_parent"
	case errors.Is(err, ErrAttachmentUploadFailed):
		return "attachment_upload_failed"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	default:
		return "internal"
	}
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code == codes.NotFound {
			return true
		}
		return errors.Is(appErr.Err, ErrNotFound)
	}

	if st, ok := status.FromError(err); ok {
		return st.Code() == codes.NotFound
	}

	return errors.Is(err, ErrNotFound)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsInvalidThreadParent(err error) bool {
	return errors.Is(err, ErrInvalidThreadParent)
}

func IsAttachmentUploadFailed(err error) bool {
	return errors.Is(err, ErrAttachmentUploadFailed)
}
