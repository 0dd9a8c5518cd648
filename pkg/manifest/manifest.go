package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samvad-hq/sentinel-go/internal/domain"
	"gopkg.in/yaml.v3"
)

// Package manifest loads scan items (prompts and content) from YAML/JSON files.

// Item is one entry of a manifest file.
type Item struct {
	ID         string         `json:"id" yaml:"id"`
	Kind       string         `json:"kind" yaml:"kind"`
	Prompt     string         `json:"prompt" yaml:"prompt"`
	Content    string         `json:"content" yaml:"content"`
	URL        string         `json:"url" yaml:"url"`
	PolicyType string         `json:"policy_type" yaml:"policy_type"`
	UserID     string         `json:"user_id" yaml:"user_id"`
	SessionID  string         `json:"session_id" yaml:"session_id"`
	Context    map[string]any `json:"context" yaml:"context"`
	Metadata   map[string]any `json:"metadata" yaml:"metadata"`
}

type manifestFile struct {
	Items []Item `json:"items" yaml:"items"`
}

// Manifest is an immutable, validated set of items.
type Manifest struct {
	mu    sync.RWMutex
	items []Item
	idx   map[string]Item
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("manifest file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read manifest file: %w", err)
	}
	return Parse(raw, filepath.Ext(path))
}

// Parse decodes manifest bytes. ext selects the decoder (".yaml", ".yml",
// ".json"); an empty ext tries each in turn.
func Parse(raw []byte, ext string) (*Manifest, error) {
	file, err := parseManifest(raw, ext)
	if err != nil {
		return nil, err
	}
	if len(file.Items) == 0 {
		return nil, errors.New("manifest contains no items")
	}

	m := &Manifest{
		items: make([]Item, len(file.Items)),
		idx:   make(map[string]Item, len(file.Items)),
	}
	for i := range file.Items {
		item := sanitizeItem(file.Items[i])
		if err := validateItem(item); err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		if _, exists := m.idx[item.ID]; exists {
			return nil, fmt.Errorf("duplicate item id %q", item.ID)
		}
		m.items[i] = item
		m.idx[item.ID] = item
	}
	return m, nil
}

type unmarshalFn func([]byte, any) error

func parseManifest(data []byte, ext string) (manifestFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	var lastErr error
	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		file, err := unmarshalManifest(d.name, data, d.fn)
		if err == nil {
			return file, nil
		}
		lastErr = err
	}

	if ext != "" && lastErr != nil {
		return manifestFile{}, fmt.Errorf("parse manifest: %w", lastErr)
	}
	return manifestFile{}, errors.New("manifest format not recognized (expected YAML or JSON)")
}

func unmarshalManifest(name string, data []byte, fn unmarshalFn) (manifestFile, error) {
	var file manifestFile
	if err := fn(data, &file); err != nil {
		return manifestFile{}, fmt.Errorf("decode %s manifest: %w", name, err)
	}
	return file, nil
}

func sanitizeItem(it Item) Item {
	it.ID = strings.TrimSpace(it.ID)
	it.Kind = strings.ToLower(strings.TrimSpace(it.Kind))
	it.URL = strings.TrimSpace(it.URL)
	it.PolicyType = strings.TrimSpace(it.PolicyType)
	it.UserID = strings.TrimSpace(it.UserID)
	it.SessionID = strings.TrimSpace(it.SessionID)
	if it.Kind == "" {
		if it.PolicyType != "" {
			it.Kind = domain.KindPolicy
		} else {
			it.Kind = domain.KindThreat
		}
	}
	return it
}

func validateItem(it Item) error {
	if it.ID == "" {
		return errors.New("id is required")
	}
	switch it.Kind {
	case domain.KindThreat:
		if strings.TrimSpace(it.Prompt) == "" && it.URL == "" {
			return fmt.Errorf("prompt or url is required for threat item %q", it.ID)
		}
	case domain.KindPolicy:
		if it.PolicyType == "" {
			return fmt.Errorf("policy_type is required for policy item %q", it.ID)
		}
		if strings.TrimSpace(it.Content) == "" && it.URL == "" {
			return fmt.Errorf("content or url is required for policy item %q", it.ID)
		}
	default:
		return fmt.Errorf("unsupported kind %q for item %q", it.Kind, it.ID)
	}
	return nil
}

// All returns a copy of the items in file order.
func (m *Manifest) All() []Item {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Item, len(m.items))
	copy(out, m.items)
	return out
}

// ByID returns the item with the given id.
func (m *Manifest) ByID(id string) (Item, bool) {
	if m == nil {
		return Item{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.idx[strings.TrimSpace(id)]
	return it, ok
}

// ScanItem converts the entry into the scanner's domain model.
func (it Item) ScanItem() domain.ScanItem {
	text, attrs := it.Prompt, it.Context
	if it.Kind == domain.KindPolicy {
		text, attrs = it.Content, it.Metadata
	}
	return domain.ScanItem{
		ID:         it.ID,
		Kind:       it.Kind,
		Text:       text,
		URL:        it.URL,
		PolicyType: it.PolicyType,
		UserID:     it.UserID,
		SessionID:  it.SessionID,
		Attributes: attrs,
	}
}

// ScanItems converts every entry.
func (m *Manifest) ScanItems() []domain.ScanItem {
	all := m.All()
	out := make([]domain.ScanItem, 0, len(all))
	for _, it := range all {
		out = append(out, it.ScanItem())
	}
	return out
}
