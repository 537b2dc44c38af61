package store

import (
	"context"
	"errors"
	"time"
)

// Tee returns an [EventSink] that appends every event to both primary and
// secondary. Reads are served from primary alone, so the aggregation and
// drift paths keep a single source of truth while the secondary sink (an
// audit file, typically) receives a copy of the stream.
//
// Append reports the joined errors of both sinks; a partial write still
// reaches the healthy sink.
func Tee(primary, secondary EventSink) EventSink {
	return &teeSink{primary: primary, secondary: secondary}
}

type teeSink struct {
	primary   EventSink
	secondary EventSink
}

var _ EventSink = (*teeSink)(nil)

func (t *teeSink) Append(ctx context.Context, ev Event) error {
	perr := t.primary.Append(ctx, ev)
	serr := t.secondary.Append(ctx, ev)
	return errors.Join(perr, serr)
}

func (t *teeSink) EventsSince(ctx context.Context, kind string, since time.Time, limit int) ([]Event, error) {
	return t.primary.EventsSince(ctx, kind, since, limit)
}
