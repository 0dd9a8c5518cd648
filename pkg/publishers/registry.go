package publishers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Builder creates a Publisher from a config entry.
type Builder func(ctx context.Context, cfg PublisherConfig, log Logger) (Publisher, error)

// Registry maps publisher types to builders.
type Registry interface {
	Register(typ string, builder Builder)
	PublisherFor(ctx context.Context, cfg PublisherConfig, log Logger) (Publisher, error)
}

type registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry with optional pre-registered builders.
func NewRegistry(builders map[string]Builder) Registry {
	r := &registry{
		builders: make(map[string]Builder),
	}
	for typ, b := range builders {
		r.Register(typ, b)
	}
	return r
}

// Register associates a builder with a publisher type.
func (r *registry) Register(typ string, builder Builder) {
	if typ = strings.TrimSpace(strings.ToLower(typ)); typ == "" || builder == nil {
		return
	}

	r.mu.Lock()
	r.builders[typ] = builder
	r.mu.Unlock()
}

// PublisherFor returns the publisher built for the provided config. Publishers
// restricted to a subset of alert types are wrapped in a filter.
func (r *registry) PublisherFor(ctx context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("publisher %q has no type configured", cfg.ID)
	}

	r.mu.RLock()
	builder := r.builders[strings.ToLower(cfg.Type)]
	r.mu.RUnlock()

	if builder == nil {
		return nil, fmt.Errorf("no publisher registered for type %q", cfg.Type)
	}
	pub, err := builder(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if len(cfg.Events) > 0 {
		return &filteredPublisher{Publisher: pub, cfg: cfg}, nil
	}
	return pub, nil
}

// DefaultRegistry wires up known publishers.
func DefaultRegistry() Registry {
	builders := map[string]Builder{
		TypeHTTP:   newHTTPPublisher,
		TypeSQS:    newSQSPublisher,
		TypeSNS:    newSNSPublisher,
		TypePubSub: newPubSubPublisher,
		TypeLog:    newLogPublisher,
	}
	return NewRegistry(builders)
}

// BuildAll instantiates publishers for configs using the registry.
func BuildAll(ctx context.Context, reg Registry, cfgs []PublisherConfig, log Logger) ([]Publisher, error) {
	if reg == nil || len(cfgs) == 0 {
		return nil, nil
	}

	var pubs []Publisher
	for _, cfg := range cfgs {
		pub, err := reg.PublisherFor(ctx, cfg, log)
		if err != nil {
			err = fmt.Errorf("build publisher %q: %w", cfg.ID, err)
			// Release clients built so far.
			return nil, errors.Join(err, closeAll(pubs))
		}
		pubs = append(pubs, pub)
	}
	return pubs, nil
}

// filteredPublisher drops events the config does not subscribe to.
type filteredPublisher struct {
	Publisher
	cfg PublisherConfig
}

func (f *filteredPublisher) Publish(ctx context.Context, evt Event) error {
	if !f.cfg.Accepts(evt.Type) {
		return ErrSkipped
	}
	return f.Publisher.Publish(ctx, evt)
}

// Close forwards to the wrapped publisher when it holds resources.
func (f *filteredPublisher) Close() error {
	if c, ok := f.Publisher.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
