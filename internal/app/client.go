package app

import (
	"fmt"

	"github.com/samvad-hq/sentinel-go/internal/config"
	"github.com/samvad-hq/sentinel-go/pkg/sentinel"
)

// NewClient builds the SDK client from config.
func NewClient(cfg *config.Config, opts ...sentinel.Option) (*sentinel.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	all := []sentinel.Option{sentinel.WithTimeout(cfg.Timeout)}
	if cfg.Tenant != "" {
		all = append(all, sentinel.WithTenant(cfg.Tenant))
	}
	all = append(all, opts...)
	client, err := sentinel.New(cfg.BaseURL, cfg.APIKey, all...)
	if err != nil {
		return nil, fmt.Errorf("init sentinel client: %w", err)
	}
	return client, nil
}
