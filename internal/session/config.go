package session

import (
	"strings"
	"time"

	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/transport"
)

// Mode selects how the acquisition transport is chosen.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeWS   Mode = "ws"
	ModeHTTP Mode = "http"
	ModeMQTT Mode = "mqtt"
)

const (
	MinInterval     = 250 * time.Millisecond
	DefaultInterval = time.Second
)

// ParseMode accepts the configuration spelling of a mode. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeWS, ModeHTTP, ModeMQTT:
		return m, nil
	default:
		return "", errors.New().WithData(errors.ErrInvalidMode, s)
	}
}

// NormalizeInterval converts a millisecond setting into a tick period.
// Unset or invalid values use DefaultInterval; small ones are raised to MinInterval.
func NormalizeInterval(ms int) time.Duration {
	if ms <= 0 {
		return DefaultInterval
	}

	return max(time.Duration(ms)*time.Millisecond, MinInterval)
}

// Config is fixed for the lifetime of one session run.
type Config struct {
	EndpointURL string        `json:"endpointUrl"`
	Mode        Mode          `json:"mode"`
	Interval    time.Duration `json:"interval"`
	UseMock     bool          `json:"useMock"`
}

// Source names the producer feeding a run.
type Source string

const (
	SourceMock Source = "mock"
	SourcePush Source = "push"
	SourcePull Source = "pull"
)

// transportKind resolves the transport a non-mock config will use.
func (c Config) transportKind() transport.Kind {
	switch c.Mode {
	case ModeWS:
		return transport.KindWebSocket
	case ModeMQTT:
		return transport.KindMQTT
	case ModeHTTP:
		return transport.KindHTTP
	default:
		return transport.KindOf(c.EndpointURL)
	}
}

// source returns the producer family for this config.
func (c Config) source() Source {
	if c.UseMock {
		return SourceMock
	}
	if c.transportKind() == transport.KindHTTP {
		return SourcePull
	}

	return SourcePush
}
