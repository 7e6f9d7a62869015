// Package logx binds user, stream and event fields to pslog loggers without
// repeating fields already present on the context logger.
package logx

import (
	"context"

	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

type contextKey int

const userKey contextKey = iota

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithUser annotates the context logger with the user id unless the context
// logger already carries it.
func WithUser(ctx context.Context, userID schema.UserID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if userID == "" {
		return log
	}
	if current, ok := ctx.Value(userKey).(schema.UserID); ok && current == userID {
		return log
	}
	return log.With("user", userID)
}

// WithStream annotates the logger with the kind and id of a chunked stream.
func WithStream(log pslog.Logger, kind string, id string) pslog.Logger {
	if kind != "" {
		log = log.With("stream", kind)
	}
	if id != "" {
		log = log.With("stream_id", id)
	}
	return log
}

// WithEvent annotates the logger with a push event name and, for socket
// frames, the client message id.
func WithEvent(log pslog.Logger, name schema.EventName, messageID string) pslog.Logger {
	if name != "" {
		log = log.With("event", name)
	}
	if messageID != "" {
		log = log.With("message_id", messageID)
	}
	return log
}

// ContextWithUserLogger attaches a logger that already carries the user field,
// marking the user so WithUser does not add it again.
func ContextWithUserLogger(ctx context.Context, log pslog.Logger, userID schema.UserID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}
