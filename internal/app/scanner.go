package app

import (
	"context"
	"fmt"
	"time"

	"github.com/samvad-hq/sentinel-go/internal/config"
	"github.com/samvad-hq/sentinel-go/internal/domain"
	"github.com/samvad-hq/sentinel-go/internal/logger"
	"github.com/samvad-hq/sentinel-go/internal/scanner"
	"github.com/samvad-hq/sentinel-go/internal/storage"
	"github.com/samvad-hq/sentinel-go/pkg/manifest"
	"github.com/samvad-hq/sentinel-go/pkg/publishers"
)

// Scanner is the batch scan runtime. It loads the manifest and publishers,
// opens the verdict cache and drives scan passes, once or on an interval.
type Scanner struct {
	cfg      *config.Config
	items    []domain.ScanItem
	fanout   *publishers.Fanout
	service  *scanner.Service
	interval time.Duration
	log      logger.Logger
	store    storage.Store
}

// NewScanner builds a scanner runtime from config files.
func NewScanner(ctx context.Context, cfg *config.Config, log logger.Logger) (*Scanner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	man, err := manifest.Load(cfg.ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	items := man.ScanItems()
	log.InfoObj("manifest loaded", "manifest_meta", map[string]any{
		"path":  cfg.ManifestFile,
		"count": len(items),
	})

	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	fanout, err := buildFanout(ctx, cfg.PublishersFile, log)
	if err != nil {
		return nil, err
	}

	storeOpts := storage.Options{
		VerdictTTL:      cfg.VerdictTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	}
	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storeOpts)
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"verdict_ttl_seconds":      int(cfg.VerdictTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	retries := cfg.RateLimitMaxRetries
	if retries == 0 {
		retries = -1 // scanner treats zero as "use default"
	}
	service := scanner.NewService(client, scanner.Options{
		Store:          store,
		Publisher:      fanout,
		Extractor:      scanner.NewExtractor(nil),
		Logger:         log,
		MaxRetries:     retries,
		InitialBackoff: cfg.RateLimitBackoff,
	})

	return &Scanner{
		cfg:      cfg,
		items:    items,
		fanout:   fanout,
		service:  service,
		interval: cfg.ScanInterval,
		log:      log,
		store:    store,
	}, nil
}

// buildFanout loads the optional publishers file. Without one, alerts go to
// the application log.
func buildFanout(ctx context.Context, path string, log logger.Logger) (*publishers.Fanout, error) {
	cfgs := []publishers.PublisherConfig{{ID: "log", Type: publishers.TypeLog}}
	if path != "" {
		publisherReg, err := publishers.LoadRegistry(path)
		if err != nil {
			return nil, fmt.Errorf("load publishers registry: %w", err)
		}
		cfgs = publisherReg.Enabled()
	}

	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), cfgs, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(cfgs))
	for _, pubCfg := range cfgs {
		summaries = append(summaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubClients), nil
}

// Run executes one scan pass, or keeps scanning on the configured interval
// until the context is cancelled. It returns the summary and error of the last
// completed pass.
func (s *Scanner) Run(ctx context.Context) (scanner.Summary, error) {
	if s == nil || s.service == nil {
		return scanner.Summary{}, fmt.Errorf("scanner is not initialized")
	}
	defer s.close()

	if s.interval <= 0 {
		return s.runOnce(ctx)
	}

	s.log.InfoObj("scan loop starting", "scanner_state", map[string]any{
		"items_count":      len(s.items),
		"publishers_count": s.fanout.Size(),
		"scan_interval":    s.interval.String(),
	})

	last, lastErr := s.runOnce(ctx)
	if lastErr != nil {
		s.log.ErrorObj("initial scan failed", "error", lastErr.Error())
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.InfoObj("scan loop exiting", "reason", ctx.Err().Error())
			return last, lastErr
		case <-ticker.C:
			sum, err := s.runOnce(ctx)
			if ctx.Err() != nil {
				// Interrupted pass; report the last completed one.
				continue
			}
			last, lastErr = sum, err
			if err != nil {
				s.log.ErrorObj("scheduled scan failed", "error", err.Error())
			}
		}
	}
}

func (s *Scanner) runOnce(ctx context.Context) (scanner.Summary, error) {
	start := time.Now()
	s.log.InfoObj("scan started", "scan_meta", map[string]any{
		"items_count": len(s.items),
		"started_at":  start.UTC(),
	})
	sum, err := s.service.Run(ctx, s.items)
	s.log.InfoObj("scan completed", "scan_meta", map[string]any{
		"items_count": len(s.items),
		"elapsed_ms":  time.Since(start).Milliseconds(),
	})
	return sum, err
}

// close releases the verdict store and publisher clients, logging any errors.
func (s *Scanner) close() {
	if err := s.fanout.Close(); err != nil {
		s.log.ErrorObj("publishers close failed", "error", err.Error())
	}
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.log.ErrorObj("storage close failed", "error", err.Error())
	}
}
