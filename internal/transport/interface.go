package transport

import (
	"context"
	"net/url"
	"strings"
)

// Channel is an open push connection delivering one payload per message.
type Channel interface {
	// Receive blocks until the next message arrives. It returns an error
	// carrying ErrClosed after a close from either side, and any other error
	// for a transport fault.
	Receive() ([]byte, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Dialer opens push channels. Dial returns only after the peer acknowledged
// the connection.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Channel, error)
	// Name is the human-readable channel name used in notices.
	Name() string
}

// Fetcher performs one pull request and returns the response body.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string) ([]byte, error)
}

// Kind identifies the transport family implied by a URL.
type Kind string

const (
	KindWebSocket Kind = "ws"
	KindMQTT      Kind = "mqtt"
	KindHTTP      Kind = "http"
)

// KindOf infers the transport from the URL scheme. Anything that is not a
// push scheme is treated as a pull endpoint.
func KindOf(endpoint string) Kind {
	scheme := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}

	switch scheme = strings.ToLower(scheme); {
	case strings.HasPrefix(scheme, "ws"):
		return KindWebSocket
	case strings.HasPrefix(scheme, "mqtt"):
		return KindMQTT
	default:
		return KindHTTP
	}
}
