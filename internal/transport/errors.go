package transport

import "codeberg.org/mutker/sensordash/internal/errors"

const (
	// ErrClosed is returned by Receive once the channel was closed by either side.
	ErrClosed = errors.ErrorCode("transport_channel_closed")
	// ErrUnsupportedScheme is returned when a URL cannot be served by a transport.
	ErrUnsupportedScheme = errors.ErrorCode("transport_unsupported_scheme")
	// ErrStatus is returned for non-success pull responses.
	ErrStatus = errors.ErrorCode("transport_bad_status")
)
