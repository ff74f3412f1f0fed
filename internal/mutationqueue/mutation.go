package mutationqueue

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
	ErrClosed         = errors.New("store closed")
)

const RedactedValue = "[redacted]"

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// QueuedMutation is one deferred state-changing request. Records are
// immutable once stored; ascending ID is the replay order.
type QueuedMutation struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Headers   []Header  `json:"headers,omitempty"`
	Body      []byte    `json:"body,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the durable, ordered collection of pending mutations.
type Store interface {
	Load(ctx context.Context) ([]QueuedMutation, error)
	Append(ctx context.Context, record QueuedMutation) (int64, error)
	Remove(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Close() error
}

func (m QueuedMutation) Clone() QueuedMutation {
	out := m
	out.Headers = append([]Header(nil), m.Headers...)
	if m.Body != nil {
		out.Body = append([]byte(nil), m.Body...)
	}
	return out
}

// HeaderValue returns the first value for name, compared case-insensitively.
func (m QueuedMutation) HeaderValue(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Redacted returns a copy with credential-carrying header values masked, for
// display outside the store.
func (m QueuedMutation) Redacted() QueuedMutation {
	out := m.Clone()
	for i, h := range out.Headers {
		switch strings.ToLower(strings.TrimSpace(h.Name)) {
		case "authorization", "proxy-authorization", "cookie":
			out.Headers[i].Value = RedactedValue
		}
	}
	return out
}

func validateRecord(record QueuedMutation) error {
	if strings.TrimSpace(record.URL) == "" {
		return ErrInvalidInput
	}
	if !IsMutatingMethod(record.Method) {
		return ErrInvalidInput
	}
	return nil
}

// IsMutatingMethod reports whether method changes server state. Empty is
// treated as GET.
func IsMutatingMethod(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}
