package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error records err under "error". Nil yields an empty Attr, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups the non-nil errors under "errors".
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return Group("errors", as...)
}

// UserID records the user identifier under "user_id". Empty ids are dropped.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Operation records the store operation name under "operation".
func Operation(name string) slog.Attr {
	return slog.String("operation", name)
}

// Backend records the storage backend name under "backend".
func Backend(name string) slog.Attr {
	return slog.String("backend", name)
}

// Command records the CLI command under "command".
func Command(name string) slog.Attr {
	return slog.String("command", name)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

func Count(n int) slog.Attr {
	return slog.Int("count", n)
}
