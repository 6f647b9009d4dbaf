package session

import "codeberg.org/mutker/sensordash/internal/errors"

// Notice texts shown to the operator.
const (
	msgNeedEndpoint = "Please provide an endpoint or enable Mock data"
	msgMockStarted  = "Mock data started"
	msgPollStarted  = "HTTP polling started"
	msgPollFailed   = "HTTP fetch failed"
	msgStopped      = "Stopped"
)

// ErrNoTransport means no dialer is registered for the requested push transport.
const ErrNoTransport = errors.ErrorCode("session_no_transport")

// asError returns err as a coded Error, wrapping it under code if needed.
func asError(err error, code errors.ErrorCode) errors.Error {
	var e errors.Error
	if errors.As(err, &e) {
		return e
	}

	return errors.New().Wrap(code, err)
}
