package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind identifies a class of application error independently of its message.
type Kind string

const (
	KindInvalidReference    Kind = "InvalidReference"
	KindUserNotFound        Kind = "UserNotFound"
	KindInvalidQuantity     Kind = "InvalidQuantity"
	KindInvalidProductID    Kind = "InvalidProductId"
	KindInvalidCartID       Kind = "InvalidCartId"
	KindUnauthorizedUser    Kind = "UnauthorizedUser"
	KindProductExistsInCart Kind = "ProductExistsInCart"
	KindCartItemNotFound    Kind = "CartItemNotFound"
	KindUnknown             Kind = "UnknownError"

	KindBadRequest   Kind = "BadRequest"
	KindUnauthorized Kind = "Unauthorized"
)

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error
func New(kind Kind, code int, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Sentinels, one per kind. Compare with errors.Is; never mutate them.
var (
	ErrInvalidReference    = New(KindInvalidReference, http.StatusBadRequest, "Invalid email address or phone number", nil)
	ErrUserNotFound        = New(KindUserNotFound, http.StatusNotFound, "User not found", nil)
	ErrInvalidQuantity     = New(KindInvalidQuantity, http.StatusBadRequest, "Quantity must be one or more", nil)
	ErrInvalidProductID    = New(KindInvalidProductID, http.StatusBadRequest, "Product not found", nil)
	ErrInvalidCartID       = New(KindInvalidCartID, http.StatusNotFound, "Cart not found", nil)
	ErrUnauthorizedUser    = New(KindUnauthorizedUser, http.StatusForbidden, "You are not allowed to access this cart", nil)
	ErrProductExistsInCart = New(KindProductExistsInCart, http.StatusConflict, "This product already exists in cart", nil)
	ErrCartItemNotFound    = New(KindCartItemNotFound, http.StatusNotFound, "Item not found in cart", nil)
	ErrUnknown             = New(KindUnknown, http.StatusInternalServerError, "Unknown error", nil)

	ErrBadRequest   = New(KindBadRequest, http.StatusBadRequest, "Bad request", nil)
	ErrUnauthorized = New(KindUnauthorized, http.StatusUnauthorized, "Unauthorized", nil)
)

// WithMessage returns a copy of a sentinel carrying a more specific message.
func WithMessage(base *Error, message string) *Error {
	return New(base.Kind, base.Code, message, base.Err)
}

// Unknown wraps an unexpected failure. The cause stays reachable through Unwrap.
func Unknown(message string, cause error) *Error {
	return New(KindUnknown, http.StatusInternalServerError, message, cause)
}

// From converts any error into an *Error. Application errors pass through
// untouched, everything else becomes UnknownError with err as the cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Unknown(ErrUnknown.Message, err)
}

// KindOf returns the kind of err, or "" when err is not an application error.
func KindOf(err error) Kind {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// Response renders err the way every handler answers failures.
func Response(c *gin.Context, err *Error) {
	c.AbortWithStatusJSON(err.Code, gin.H{"error": err.Message, "kind": err.Kind})
}

// Error middleware for Gin
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			Response(c, From(c.Errors.Last().Err))
		}
	}
}
