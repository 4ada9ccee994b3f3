package loopback

import (
	"context"
	"log/slog"
)

const redacted = "[redacted]"

// redactQuery blanks the request query in access log records. The callback query
// carries the authorization code and state.
type redactQuery struct {
	slog.Handler
}

func (h redactQuery) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactRequest(a))
		return true
	})
	return h.Handler.Handle(ctx, out)
}

func (h redactQuery) WithAttrs(attrs []slog.Attr) slog.Handler {
	return redactQuery{h.Handler.WithAttrs(attrs)}
}

func (h redactQuery) WithGroup(name string) slog.Handler {
	return redactQuery{h.Handler.WithGroup(name)}
}

func redactRequest(a slog.Attr) slog.Attr {
	if a.Key != "request" || a.Value.Kind() != slog.KindGroup {
		return a
	}

	group := a.Value.Group()
	attrs := make([]slog.Attr, len(group))
	for i, ga := range group {
		if ga.Key == "query" && ga.Value.String() != "" {
			ga = slog.String("query", redacted)
		}
		attrs[i] = ga
	}

	return slog.Attr{Key: a.Key, Value: slog.GroupValue(attrs...)}
}
