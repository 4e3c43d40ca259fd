package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to a log event. Later fields overwrite earlier ones with
// the same key in JSON output.
type Field func(e *zerolog.Event)

func String(k, v string) Field { return func(e *zerolog.Event) { e.Str(k, v) } }

func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }

func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }

func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}

func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err is a no-op for a nil error.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Tenant tags a log line with the school it concerns.
func Tenant(id string) Field { return String("tenant", id) }

// Event names a bus event ("ring-the-bell", "play-alert", ...).
func Event(name string) Field { return String("event", name) }

// Bell tags a line with a bell's name and HH:MM time.
func Bell(name, at string) Field {
	return func(e *zerolog.Event) { e.Str("bell", name).Str("bell_time", at) }
}
