// Package catalog loads the models the user can pick from.
package catalog

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"parley/internal/backend"
	"parley/internal/models"
)

const modelsPath = "/models"

type row struct {
	ModelID     string `json:"model_id"`
	DisplayName string `json:"display_name"`
	Provider    string `json:"provider"`
	IsActive    bool   `json:"is_active"`
}

// Catalog caches the last successful GET /models. It is safe for concurrent use.
type Catalog struct {
	client *resty.Client
	logger *slog.Logger
	group  singleflight.Group

	mu     sync.RWMutex
	models []models.AIModel
	byID   map[string]models.AIModel
}

func New(client *resty.Client, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{client: client, logger: logger, byID: map[string]models.AIModel{}}
}

// Refresh fetches the catalog. Failures are logged and yield an empty result;
// the cached catalog is only replaced on success. Concurrent calls share one
// request.
func (c *Catalog) Refresh(ctx context.Context) []models.AIModel {
	v, _, _ := c.group.Do("refresh", func() (any, error) {
		fetched, err := c.fetch(ctx)
		if err != nil {
			c.logger.Warn("failed to refresh model catalog", "error", err)
			return []models.AIModel(nil), nil
		}
		c.replace(fetched)
		return fetched, nil
	})
	list, _ := v.([]models.AIModel)
	return list
}

func (c *Catalog) fetch(ctx context.Context) ([]models.AIModel, error) {
	res, err := c.client.R().SetContext(ctx).Get(modelsPath)
	if err := backend.Classify(res, err); err != nil {
		return nil, err
	}

	var rows []row
	if err := backend.Decode(res, &rows); err != nil {
		return nil, err
	}
	return filter(rows), nil
}

// filter keeps active rows with a usable model id.
func filter(rows []row) []models.AIModel {
	out := make([]models.AIModel, 0, len(rows))
	for _, r := range rows {
		id := strings.TrimSpace(r.ModelID)
		if !r.IsActive || id == "" {
			continue
		}
		name := strings.TrimSpace(r.DisplayName)
		if name == "" {
			name = id
		}
		out = append(out, models.AIModel{
			ID:          id,
			DisplayName: name,
			Provider:    r.Provider,
			IsActive:    true,
		})
	}
	return out
}

func (c *Catalog) replace(list []models.AIModel) {
	byID := make(map[string]models.AIModel, len(list))
	for _, m := range list {
		byID[m.ID] = m
	}
	c.mu.Lock()
	c.models = list
	c.byID = byID
	c.mu.Unlock()
}

// Models returns the last successfully loaded catalog.
func (c *Catalog) Models() []models.AIModel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.AIModel, len(c.models))
	copy(out, c.models)
	return out
}

func (c *Catalog) Lookup(id string) (models.AIModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[id]
	return m, ok
}

// BucketOf returns the provider bucket for a catalog entry. The provider column
// wins; the vendor prefix of the id is used when it is empty.
func BucketOf(m models.AIModel) string {
	name := m.Provider
	if strings.TrimSpace(name) == "" {
		name, _, _ = strings.Cut(m.ID, "/")
	}
	if bucket, ok := models.ProviderBucket(name); ok {
		return bucket
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// GroupByProvider groups models by normalized provider bucket, each group
// sorted by display name.
func GroupByProvider(list []models.AIModel) map[string][]models.AIModel {
	groups := map[string][]models.AIModel{}
	for _, m := range list {
		key := BucketOf(m)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], m)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			return strings.ToLower(g[i].DisplayName) < strings.ToLower(g[j].DisplayName)
		})
	}
	return groups
}

// ProviderOrder lists group keys with the canonical buckets first.
func ProviderOrder(groups map[string][]models.AIModel) []string {
	keys := make([]string, 0, len(groups))
	for _, b := range models.ProviderBuckets {
		if _, ok := groups[b]; ok {
			keys = append(keys, b)
		}
	}
	var extra []string
	for k := range groups {
		if _, known := models.ProviderBucket(k); !known {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}
