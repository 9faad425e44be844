package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Pacer delays paced events. Wait returns early with ctx.Err() when the
// context ends.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NoDelay never waits.
type NoDelay struct{}

func (NoDelay) Wait(ctx context.Context) error {
	return ctx.Err()
}

// FixedDelay waits a constant duration before each paced event.
type FixedDelay time.Duration

func (d FixedDelay) Wait(ctx context.Context) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(d))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetHeaders prepares w for an event stream.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentTypeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// Write frames and flushes each event in order. It stops as soon as ctx is
// done, which is how a dropped client connection ends the stream.
func Write(ctx context.Context, w http.ResponseWriter, events []Event, pacer Pacer) error {
	if pacer == nil {
		pacer = NoDelay{}
	}
	flusher, _ := w.(http.Flusher)

	for _, ev := range events {
		if ev.Paced {
			if err := pacer.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := w.Write(FormatSSEEvent(ev.Type, ev.Data)); err != nil {
			return fmt.Errorf("write %s event: %w", ev.Type, err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}
