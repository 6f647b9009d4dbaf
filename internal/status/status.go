// Package status fans connection-status changes and transient notices out to
// interested consumers.
package status

import (
	"sync"
	"time"
)

// Status is the connectivity indicator shown by the dashboard.
type Status string

const (
	Connected    Status = "connected"
	Disconnected Status = "disconnected"
	Error        Status = "error"
)

// Severity classifies a notice.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// NoticeTTL is how long a notice stays visible. Expiry is left to consumers.
const NoticeTTL = 1800 * time.Millisecond

// Notice is an ephemeral human-readable message.
type Notice struct {
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	At       time.Time `json:"at"`
}

// Listener receives status transitions and notices.
type Listener interface {
	OnStatus(s Status)
	OnNotice(n Notice)
}

// Reporter broadcasts to its listeners in registration order.
type Reporter struct {
	mu        sync.RWMutex
	current   Status
	listeners []Listener
	now       func() time.Time
}

// NewReporter returns a reporter whose initial status is Disconnected.
func NewReporter() *Reporter {
	return &Reporter{current: Disconnected, now: time.Now}
}

// Subscribe registers l.
func (r *Reporter) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Current returns the last status set.
func (r *Reporter) Current() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Set records s and emits it, even when unchanged.
func (r *Reporter) Set(s Status) {
	r.mu.Lock()
	r.current = s
	listeners := r.listeners
	r.mu.Unlock()

	for _, l := range listeners {
		l.OnStatus(s)
	}
}

// Info emits an informational notice.
func (r *Reporter) Info(msg string) {
	r.notify(msg, SeverityInfo)
}

// Fail emits an error notice. It does not change the status.
func (r *Reporter) Fail(msg string) {
	r.notify(msg, SeverityError)
}

func (r *Reporter) notify(msg string, sev Severity) {
	r.mu.RLock()
	n := Notice{Message: msg, Severity: sev, At: r.now()}
	listeners := r.listeners
	r.mu.RUnlock()

	for _, l := range listeners {
		l.OnNotice(n)
	}
}

// Funcs adapts plain functions to Listener. Nil members are skipped.
type Funcs struct {
	Status func(Status)
	Notice func(Notice)
}

func (f Funcs) OnStatus(s Status) {
	if f.Status != nil {
		f.Status(s)
	}
}

func (f Funcs) OnNotice(n Notice) {
	if f.Notice != nil {
		f.Notice(n)
	}
}
