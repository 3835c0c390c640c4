// Package connectors defines the contract every content source implements
// and the registry that routes queries to them.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"scrollfeed/types"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrUnknownConnector is returned for a query whose connector is not registered.
	ErrUnknownConnector = errors.New("unknown connector")
	// ErrNoDetail is returned when a connector cannot expand items.
	ErrNoDetail = errors.New("connector has no detail view")
)

// Connector fetches one page of a query. An empty cursor requests the first
// page; a page with Exhausted set has no continuation.
type Connector interface {
	FetchPage(ctx context.Context, q types.QueryConfig, user, cursor string) (*types.Page, error)
}

// DetailProvider is implemented by connectors that can expand an item.
type DetailProvider interface {
	GetDetail(ctx context.Context, q types.QueryConfig, localID string, meta map[string]any, user string) (*types.Detail, error)
}

// UserScoped is implemented by connectors whose content differs per user.
type UserScoped interface {
	UserScoped(q types.QueryConfig) bool
}

// Registry maps connector names to implementations and runs every fetch
// through a per-source circuit breaker.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	breakers   map[string]*gobreaker.CircuitBreaker
	breakerCfg BreakerConfig
	logger     *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg BreakerConfig, logger *zap.Logger) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &Registry{
		connectors: make(map[string]Connector),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		breakerCfg: cfg,
		logger:     logger,
	}
}

// Register adds or replaces a connector.
func (r *Registry) Register(name string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[name] = c
}

// Get returns the connector serving q.
func (r *Registry) Get(q types.QueryConfig) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[q.ConnectorName()]
	if !ok {
		return nil, fmt.Errorf("%w: %q (query %s)", ErrUnknownConnector, q.ConnectorName(), q.Key)
	}
	return c, nil
}

// Names lists registered connector names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every query has a registered connector.
func (r *Registry) Validate(queries []types.QueryConfig) error {
	var errs []error
	for _, q := range queries {
		if _, err := r.Get(q); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsUserScoped reports whether cached pages of q must be kept per user.
func (r *Registry) IsUserScoped(q types.QueryConfig) bool {
	c, err := r.Get(q)
	if err != nil {
		return false
	}
	us, ok := c.(UserScoped)
	return ok && us.UserScoped(q)
}

// FetchPage fetches one page of q and stamps the items with their query's
// source, tier and priority. Item ids returned by connectors are local and
// get prefixed with the source.
func (r *Registry) FetchPage(ctx context.Context, q types.QueryConfig, user, cursor string) (*types.Page, error) {
	c, err := r.Get(q)
	if err != nil {
		return nil, err
	}
	res, err := r.breaker(q.Source).Execute(func() (interface{}, error) {
		return c.FetchPage(ctx, q, user, cursor)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Key, err)
	}
	page, _ := res.(*types.Page)
	if page == nil {
		return &types.Page{Exhausted: true}, nil
	}
	now := time.Now()
	for i := range page.Items {
		stamp(&page.Items[i], q, now)
	}
	return page, nil
}

// GetDetail expands one item when the connector supports it.
func (r *Registry) GetDetail(ctx context.Context, q types.QueryConfig, item types.FeedItem, user string) (*types.Detail, error) {
	c, err := r.Get(q)
	if err != nil {
		return nil, err
	}
	dp, ok := c.(DetailProvider)
	if !ok {
		return nil, ErrNoDetail
	}
	_, localID, _ := types.SplitID(item.ID)
	d, err := dp.GetDetail(ctx, q, localID, item.Meta, user)
	if err != nil {
		return nil, err
	}
	d.ID = item.ID
	return d, nil
}

func stamp(it *types.FeedItem, q types.QueryConfig, now time.Time) {
	it.ID = types.ItemID(q.Source, it.ID)
	it.Source = q.Source
	it.Query = q.Key
	if q.Tier != "" {
		it.Tier = q.Tier
	}
	if it.Priority == 0 {
		it.Priority = q.Priority
	}
	if it.Timestamp.IsZero() {
		it.Timestamp = now
	}
}
