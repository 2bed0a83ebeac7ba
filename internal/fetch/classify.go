package fetch

import (
	"context"
	"errors"
	"net/http"
)

// Class is the outcome tier of one provider response.
type Class int

const (
	Success Class = iota
	RateLimited
	Transient
	Fatal
	ClientError
	Unknown
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	case ClientError:
		return "client_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether the fetch client retries this class itself.
func (c Class) Retryable() bool {
	return c == RateLimited || c == Transient
}

// Classify maps a status code or transport error onto a Class. A non-nil err
// means no response was received: timeouts and connection failures are
// transient, cancellation is not, and a request that could not be built is a
// client error.
func Classify(status int, err error) Class {
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			return ClientError
		case errors.Is(err, context.Canceled):
			return Unknown
		}
		return Transient
	}

	switch {
	case status == http.StatusOK:
		return Success
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status >= http.StatusInternalServerError && status <= http.StatusGatewayTimeout:
		return Transient
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Fatal
	case status == http.StatusBadRequest:
		return ClientError
	default:
		return Unknown
	}
}
