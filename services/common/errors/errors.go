package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is an error with the HTTP status it should be rendered with.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on status code and message so wrapped copies of a predefined
// error still compare equal to it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Message == e.Message
}

func New(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Wrap returns a copy of base carrying err as its cause.
func Wrap(base *Error, err error) *Error {
	return &Error{Code: base.Code, Message: base.Message, Err: err}
}

var (
	ErrBadRequest         = New(http.StatusBadRequest, "bad request", nil)
	ErrValidation         = New(http.StatusBadRequest, "validation error", nil)
	ErrUnauthorized       = New(http.StatusUnauthorized, "unauthorized", nil)
	ErrForbidden          = New(http.StatusForbidden, "forbidden", nil)
	ErrNotFound           = New(http.StatusNotFound, "not found", nil)
	ErrConflict           = New(http.StatusConflict, "conflict", nil)
	ErrTooManyRequests    = New(http.StatusTooManyRequests, "rate limit exceeded, please try again later", nil)
	ErrInternalServer     = New(http.StatusInternalServerError, "internal server error", nil)
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "service unavailable", nil)
)

// Respond writes err as JSON and aborts the chain. Errors that are not *Error
// become a 500 without leaking their text.
func Respond(c *gin.Context, err error) {
	var appErr *Error
	if !stderrors.As(err, &appErr) {
		appErr = Wrap(ErrInternalServer, err)
	}
	c.AbortWithStatusJSON(appErr.Code, appErr)
}

// ErrorMiddleware renders the last error attached with c.Error when the
// handler did not write a response itself.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		Respond(c, c.Errors.Last().Err)
	}
}
