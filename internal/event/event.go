// Package event is the single ingress for everything that happens to the bot.
//
// Inbound occurrences (connection lifecycle, players, entities, chat, combat
// milestones, navigation outcomes) are normalized into an Event, counted,
// recorded in a bounded history, passed through a middleware chain and fanned
// out to at most one handler per event name. A failing handler never reaches
// the caller: its error or panic is recorded and re-emitted as an "error" event.
package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Names of events the dispatcher emits itself.
const (
	NameError              = "error"
	NamePerformanceWarning = "performance_warning"
)

var (
	// ErrNilHandler is returned when registering a nil handler or middleware.
	ErrNilHandler = errors.New("event: handler must not be nil")
	// ErrEmptyName is returned when registering a handler without an event name.
	ErrEmptyName = errors.New("event: name must not be empty")
)

// Event is one normalized occurrence.
type Event struct {
	Seq  uint64
	Name string
	Args map[string]any
	At   time.Time
}

// String returns the string argument stored under key.
func (e Event) String(key string) (string, bool) {
	v, ok := e.Args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the numeric argument stored under key, accepting any Go number type.
func (e Event) Float(key string) (float64, bool) {
	return AsFloat(e.Args[key])
}

// Map returns the nested object stored under key.
func (e Event) Map(key string) (map[string]any, bool) {
	m, ok := e.Args[key].(map[string]any)
	return m, ok
}

// AsFloat converts JSON-decoded and native numeric values to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// NormalizeName lower-cases and trims an event name and folds '-' and ' ' to '_'.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("-", "_", " ", "_").Replace(name)
}

// Kind classifies a recorded failure.
type Kind string

const (
	KindTransient       Kind = "transient_external"
	KindDataIntegrity   Kind = "data_integrity"
	KindUnavailable     Kind = "collaborator_unavailable"
	KindHandlerFailure  Kind = "handler_failure"
	KindHandlerPanicked Kind = "handler_panic"
)

// KindError attaches a Kind to an error returned by a handler.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e *KindError) Unwrap() error { return e.Err }

// WithKind wraps err so the dispatcher records it under kind.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// KindOf reports the Kind attached to err, defaulting to KindHandlerFailure.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindHandlerFailure
}
