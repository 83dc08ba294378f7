package errors

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/aws/smithy-go"
)

// IsRecoverable reports whether err is a transient infrastructure failure
// (network or local storage) rather than a credential problem. Recoverable
// errors are re-thrown to the caller unconverted so that a network blip never
// flips a connection to the invalid state.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrStorage) {
		return true
	}
	return isNetworkError(err)
}

// IsCancellation reports whether err carries the user-cancelled tag, either
// from declining a prompt or from a prompt timeout.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrUserCancelled) || errors.Is(err, ErrTimedOut)
}

// isNetworkError unwraps SDK operation errors down to transport-level failures.
func isNetworkError(err error) bool {
	var oe *smithy.OperationError
	if errors.As(err, &oe) {
		err = oe.Unwrap()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// APIErrorCode returns the service error code of err, or "" when err does not
// carry one. Used to map STS rejections onto the access-key/secret-key
// sentinels during static credential validation.
func APIErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
