package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/samvad-hq/sentinel-go/internal/domain"
)

// Package storage provides the local verdict cache.

// Store caches verdicts keyed by content hash.
type Store interface {
	Close() error
	LookupVerdict(key string) (domain.Verdict, bool, error)
	SaveVerdict(key string, v domain.Verdict) error
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	VerdictTTL      time.Duration
	CleanupInterval time.Duration
}

const (
	defaultVerdictTTL      = 24 * time.Hour
	defaultCleanupInterval = 6 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.VerdictTTL <= 0 {
		opts.VerdictTTL = defaultVerdictTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type noopStore struct{}

func (noopStore) Close() error                                      { return nil }
func (noopStore) LookupVerdict(string) (domain.Verdict, bool, error) { return domain.Verdict{}, false, nil }
func (noopStore) SaveVerdict(string, domain.Verdict) error          { return nil }
