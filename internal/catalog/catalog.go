// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog lists the models offered by the configured endpoint.
//
// Entries from GET /models are mapped to model.ModelRef values, sorted by
// provider and then name, and cached until Refresh or a credential change.
// Without an API key the catalog is empty and no request is made.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/imajinxai/llm-arena/internal/cloud"
	"github.com/imajinxai/llm-arena/internal/model"
)

// UnknownProvider labels models without an owner.
const UnknownProvider = "Unknown"

// ErrModelNotFound is returned by Find when no model matches.
var ErrModelNotFound = errors.New("model not found")

// Lister fetches raw model entries. *cloud.Client implements it.
type Lister interface {
	ListModels(ctx context.Context, creds cloud.Credentials) ([]cloud.ModelEntry, error)
}

// =============================================================================
// MAPPING
// =============================================================================

// ToModelRef maps one raw entry, filling display defaults.
func ToModelRef(e cloud.ModelEntry) model.ModelRef {
	name := e.Name
	if name == "" {
		name = e.ID
	}
	provider := e.OwnedBy
	if provider == "" {
		provider = UnknownProvider
	}
	desc := e.Description
	if desc == "" {
		desc = "Model: " + e.ID
	}
	return model.ModelRef{
		ID:            e.ID,
		Name:          name,
		Provider:      provider,
		Description:   desc,
		ContextWindow: e.ContextWindow,
		InputPricing:  parsePrice(e.InputPrice),
		OutputPricing: parsePrice(e.OutputPrice),
		Icon:          IconFor(e.OwnedBy),
	}
}

// parsePrice reads a leading decimal number, so "0.6" and "0.6/M" both
// parse. Anything unreadable is 0.
func parsePrice(s string) float64 {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	end := 0
	for end < len(s) && (s[end] == '.' || s[end] == '-' || s[end] == '+' || s[end] == 'e' || s[end] == 'E' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	for end > 0 {
		if v, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return v
		}
		end--
	}
	return 0
}

// MapEntries maps and sorts raw entries.
func MapEntries(entries []cloud.ModelEntry) []model.ModelRef {
	refs := make([]model.ModelRef, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, ToModelRef(e))
	}
	Sort(refs)
	return refs
}

// Sort orders models by provider, then by name, using locale-aware
// comparison so case and accents do not split groups.
func Sort(refs []model.ModelRef) {
	col := collate.New(language.English, collate.IgnoreCase)
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if c := col.CompareString(norm.NFC.String(a.Provider), norm.NFC.String(b.Provider)); c != 0 {
			return c < 0
		}
		return col.CompareString(norm.NFC.String(a.Name), norm.NFC.String(b.Name)) < 0
	})
}

// ProviderLabel returns a display label for a provider id such as
// "meta-llama" -> "Meta Llama".
func ProviderLabel(provider string) string {
	words := strings.FieldsFunc(provider, func(r rune) bool { return r == '-' || r == '_' })
	if len(words) == 0 {
		return UnknownProvider
	}
	caser := cases.Title(language.English)
	return caser.String(strings.Join(words, " "))
}

// GroupByProvider splits sorted models into provider groups, keeping order.
func GroupByProvider(refs []model.ModelRef) [][]model.ModelRef {
	var groups [][]model.ModelRef
	for _, r := range refs {
		n := len(groups)
		if n > 0 && groups[n-1][0].Provider == r.Provider {
			groups[n-1] = append(groups[n-1], r)
			continue
		}
		groups = append(groups, []model.ModelRef{r})
	}
	return groups
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog caches the model list for the current credentials.
type Catalog struct {
	lister Lister
	creds  cloud.CredentialSource
	logger *slog.Logger

	group singleflight.Group

	mu     sync.RWMutex
	models []model.ModelRef
	source string // credentials the cache was filled for
}

// New creates a catalog.
func New(lister Lister, creds cloud.CredentialSource, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{lister: lister, creds: creds, logger: logger}
}

func cacheKey(c cloud.Credentials) string {
	return c.Endpoint("") + "#" + c.Fingerprint()
}

// Models returns the cached list, fetching it when the cache is empty or
// the credentials changed since it was filled.
func (c *Catalog) Models(ctx context.Context) ([]model.ModelRef, error) {
	creds := c.creds.Credentials()
	if !creds.Configured() {
		return []model.ModelRef{}, nil
	}

	c.mu.RLock()
	models, source := c.models, c.source
	c.mu.RUnlock()
	if source == cacheKey(creds) {
		return models, nil
	}
	return c.fetch(ctx, creds)
}

// Refresh discards the cache and fetches again.
func (c *Catalog) Refresh(ctx context.Context) ([]model.ModelRef, error) {
	c.mu.Lock()
	c.models, c.source = nil, ""
	c.mu.Unlock()
	return c.Models(ctx)
}

// Cached returns the current cache without fetching.
func (c *Catalog) Cached() []model.ModelRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.models
}

// Find resolves a model by id or name.
func (c *Catalog) Find(ctx context.Context, idOrName string) (model.ModelRef, error) {
	models, err := c.Models(ctx)
	if err != nil {
		return model.ModelRef{}, err
	}
	m, ok := model.FindModel(models, idOrName)
	if !ok {
		return model.ModelRef{}, fmt.Errorf("%w: %q", ErrModelNotFound, idOrName)
	}
	return m, nil
}

func (c *Catalog) fetch(ctx context.Context, creds cloud.Credentials) ([]model.ModelRef, error) {
	key := cacheKey(creds)
	v, err, _ := c.group.Do(key, func() (any, error) {
		entries, err := c.lister.ListModels(ctx, creds)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch models: %w", err)
		}
		refs := MapEntries(entries)

		c.mu.Lock()
		c.models, c.source = refs, key
		c.mu.Unlock()

		c.logger.Info("model catalog loaded", "count", len(refs), "key", creds.Fingerprint())
		return refs, nil
	})
	if err != nil {
		c.logger.Warn("model catalog unavailable", "error", err)
		return []model.ModelRef{}, err
	}
	return v.([]model.ModelRef), nil
}
