package gateway

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cotizador/cotizador/internal/platform/middleware"
)

// Error is a failure produced by the gateway itself rather than relayed from
// the backend. Every Error renders as {"detail": ...} with its Status.
type Error struct {
	Status int
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Detail + ": " + e.cause.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.cause }

var (
	ErrMisconfigured   = &Error{Status: http.StatusInternalServerError, Detail: "BACKEND_API_SECRET no configurado"}
	ErrSessionRequired = &Error{Status: http.StatusUnauthorized, Detail: "Sesión requerida"}
)

const upstreamFallbackDetail = "Error de conexión con el backend"

// upstreamError builds the 502 returned when the backend cannot be reached. A
// streamed body cut off by the size limit is a 413 instead.
func upstreamError(cause error) *Error {
	if errors.Is(cause, middleware.ErrBodyTooLarge) {
		return bodyTooLarge(cause)
	}
	detail := upstreamFallbackDetail
	if msg := causeMessage(cause); msg != "" {
		detail = msg
	}
	return &Error{Status: http.StatusBadGateway, Detail: detail, cause: cause}
}

// bodyTooLarge is returned when the inbound body passes the size limit,
// whether it was buffered or streamed.
func bodyTooLarge(cause error) *Error {
	return &Error{Status: http.StatusRequestEntityTooLarge, Detail: "El cuerpo de la solicitud es demasiado grande", cause: cause}
}

// writeError renders err. Errors that are not *Error become a 502 so no
// failure leaves the gateway unconverted.
func writeError(c echo.Context, err error) error {
	var gerr *Error
	if !errors.As(err, &gerr) {
		gerr = upstreamError(err)
	}
	return c.JSON(gerr.Status, map[string]string{"detail": gerr.Detail})
}
