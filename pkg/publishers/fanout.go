package publishers

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrSkipped is returned by publishers that are not subscribed to an event
// type. Fanout counts such events neither as delivered nor as failed.
var ErrSkipped = errors.New("event type not subscribed")

// Fanout delivers each alert to every configured sink.
type Fanout struct {
	sinks []Publisher
}

// NewFanout drops nil entries and keeps the rest in order.
func NewFanout(pubs []Publisher) *Fanout {
	f := &Fanout{sinks: make([]Publisher, 0, len(pubs))}
	for _, p := range pubs {
		if p != nil {
			f.sinks = append(f.sinks, p)
		}
	}
	return f
}

// Publish returns how many sinks accepted evt. A failing sink does not stop
// delivery to the others; failures come back joined.
func (f *Fanout) Publish(ctx context.Context, evt Event) (int, error) {
	if f == nil {
		return 0, nil
	}

	delivered := 0
	var errs []error
	for _, p := range f.sinks {
		err := p.Publish(ctx, evt)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSkipped):
		default:
			errs = append(errs, fmt.Errorf("%s publisher[%s]: %w", p.Type(), p.ID(), err))
		}
	}
	return delivered, errors.Join(errs...)
}

// Size returns the number of sinks.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Close releases sinks that hold client connections.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	return closeAll(f.sinks)
}

func closeAll(pubs []Publisher) error {
	var errs []error
	for _, p := range pubs {
		c, ok := p.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s publisher[%s]: %w", p.Type(), p.ID(), err))
		}
	}
	return errors.Join(errs...)
}
