// Package orchestrator sequences one scroll request: it resets or continues
// the user's pool, assembles and spaces a batch, pads it to size and marks it
// seen.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scrollfeed/assembly"
	"scrollfeed/metrics"
	"scrollfeed/pool"
	"scrollfeed/spacing"
	"scrollfeed/types"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize    = 10
	DefaultMaxBatchSize = 50
	DefaultRecentSize   = 500

	dupSuffix = "#dup"
)

// ErrNotFound is returned for items no longer held by the recency cache.
var ErrNotFound = errors.New("item not found")

// DetailSource expands single items. *connectors.Registry implements it.
type DetailSource interface {
	GetDetail(ctx context.Context, q types.QueryConfig, item types.FeedItem, user string) (*types.Detail, error)
}

// Config controls batch sizing and post-processing.
type Config struct {
	BatchSize    int
	MaxBatchSize int
	RecentSize   int
	Spacing      spacing.Rules
	TierSpacing  map[types.Tier]spacing.Rules
	// Aliases extend DefaultAliases.
	Aliases map[string]string
}

// Request is one scroll call.
type Request struct {
	User   string
	Cursor string
	Limit  int
	Focus  string
	Filter string
	Source string
}

// Response is one served batch.
type Response struct {
	Items   []types.FeedItem `json:"items"`
	HasMore bool             `json:"hasMore"`
	Cursor  string           `json:"cursor,omitempty"`
}

// Orchestrator is the entry point of feed assembly.
type Orchestrator struct {
	cfg       Config
	pool      *pool.Manager
	assembler *assembly.Assembler
	details   DetailSource
	logger    *zap.Logger
	metrics   *metrics.Collector

	recent  *lru.Cache[string, types.FeedItem]
	queries map[string]types.QueryConfig
	sources map[string]struct{}
	tiers   map[types.Tier]struct{}
	aliases map[string]string
	padding map[string]struct{}
}

// New wires an Orchestrator.
func New(cfg Config, p *pool.Manager, a *assembly.Assembler, details DetailSource, logger *zap.Logger, m *metrics.Collector) (*Orchestrator, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxBatchSize < cfg.BatchSize {
		cfg.MaxBatchSize = max(DefaultMaxBatchSize, cfg.BatchSize)
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = DefaultRecentSize
	}
	recent, err := lru.New[string, types.FeedItem](cfg.RecentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create recency cache: %w", err)
	}

	o := &Orchestrator{
		cfg:       cfg,
		pool:      p,
		assembler: a,
		details:   details,
		logger:    logger,
		metrics:   m,
		recent:    recent,
		queries:   make(map[string]types.QueryConfig),
		sources:   make(map[string]struct{}),
		tiers:     make(map[types.Tier]struct{}),
		aliases:   make(map[string]string),
		padding:   make(map[string]struct{}),
	}
	for _, t := range []types.Tier{types.TierWire, types.TierLongform, types.TierMemory, types.TierDashboard} {
		o.tiers[t] = struct{}{}
	}
	for _, t := range a.Tiers() {
		o.tiers[types.Tier(strings.ToLower(string(t)))] = struct{}{}
	}
	for _, q := range p.Queries() {
		o.queries[strings.ToLower(q.Key)] = q
		o.sources[strings.ToLower(q.Source)] = struct{}{}
		if q.Padding {
			o.padding[q.Key] = struct{}{}
		}
	}
	for k, v := range DefaultAliases {
		o.aliases[k] = v
	}
	for k, v := range cfg.Aliases {
		o.aliases[strings.ToLower(k)] = v
	}
	return o, nil
}

// Scroll serves the next batch for a user. A request without a cursor starts
// a fresh session.
func (o *Orchestrator) Scroll(ctx context.Context, req Request) (*Response, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = o.cfg.BatchSize
	}
	limit = min(limit, o.cfg.MaxBatchSize)

	batch := 0
	if req.Cursor != "" {
		var err error
		if _, batch, err = DecodeCursor(req.Cursor); err != nil {
			return nil, err
		}
	}

	expr := req.Filter
	if expr == "" {
		expr = req.Source
	}
	if f := o.resolveFilter(expr); f != nil {
		return o.scrollFiltered(ctx, req.User, f, limit, batch)
	}

	if req.Cursor == "" {
		o.pool.Reset(req.User)
	}
	snap, err := o.pool.GetPool(ctx, req.User, limit)
	if err != nil {
		return nil, err
	}

	items := o.assembler.Assemble(assembly.Input{
		Items:       snap.Items,
		BatchNumber: snap.BatchNumber,
		Total:       limit,
		Focus:       assembly.ParseFocus(req.Focus),
		Selections:  snap.Selections,
	})
	items = spacing.Policy{Default: o.cfg.Spacing, Tiers: o.cfg.TierSpacing}.Enforce(items)
	if len(items) > limit {
		items = items[:limit]
	}

	assembled := len(items)
	items = o.pad(items, snap.Items, limit)
	items = duplicate(items, limit)
	padded := len(items) - assembled

	served := make([]string, 0, assembled)
	for _, it := range items[:assembled] {
		served = append(served, it.ID)
	}
	for _, it := range items[assembled:] {
		if !strings.Contains(it.ID, dupSuffix) {
			served = append(served, it.ID)
		}
	}
	o.pool.MarkSeen(req.User, served, limit)
	o.remember(items)
	o.metrics.RecordBatch("assembled", len(items), padded)

	resp := &Response{Items: items, HasMore: o.pool.HasMore(req.User)}
	if resp.HasMore {
		resp.Cursor = EncodeCursor(snap.SessionID, snap.BatchNumber+1)
	}
	o.logger.Debug("batch served",
		zap.String("user", req.User),
		zap.Int("batch", snap.BatchNumber),
		zap.Int("items", len(items)),
		zap.Int("padded", padded),
	)
	return resp, nil
}

// scrollFiltered bypasses assembly and pages through matching pool items,
// newest first. Items are not marked seen. When the window runs past the
// pooled matches, matching sources are paginated first.
func (o *Orchestrator) scrollFiltered(ctx context.Context, user string, f *filter, limit, batch int) (*Response, error) {
	snap, err := o.pool.GetPool(ctx, user, limit)
	if err != nil {
		return nil, err
	}
	if batch < 1 {
		batch = 1
	}
	matches := filtered(o.pool.Items(user), f)
	if want := batch * limit; len(matches) < want {
		err := o.pool.Extend(ctx, user, f.matchQuery, func(items []types.FeedItem) bool {
			return len(filtered(items, f)) >= want
		})
		if err != nil {
			return nil, err
		}
		matches = filtered(o.pool.Items(user), f)
	}

	start := min((batch-1)*limit, len(matches))
	end := min(start+limit, len(matches))
	items := matches[start:end]
	o.remember(items)
	o.metrics.RecordBatch("filter", len(items), 0)

	resp := &Response{Items: items, HasMore: end < len(matches) || o.pool.Active(user, f.matchQuery)}
	if resp.HasMore {
		resp.Cursor = EncodeCursor(snap.SessionID, batch+1)
	}
	return resp, nil
}

// pad tops up a short batch with unseen items from padding queries.
func (o *Orchestrator) pad(items, candidates []types.FeedItem, limit int) []types.FeedItem {
	if len(items) >= limit || len(o.padding) == 0 {
		return items
	}
	have := make(map[string]struct{}, len(items))
	for _, it := range items {
		have[it.ID] = struct{}{}
	}
	for _, it := range candidates {
		if len(items) >= limit {
			break
		}
		if _, ok := o.padding[it.Query]; !ok {
			continue
		}
		if _, dup := have[it.ID]; dup {
			continue
		}
		have[it.ID] = struct{}{}
		items = append(items, it)
	}
	return items
}

// duplicate repeats batch items, with suffixed ids, until the batch is full.
func duplicate(items []types.FeedItem, limit int) []types.FeedItem {
	n := len(items)
	if n == 0 {
		return items
	}
	for i := 0; len(items) < limit; i++ {
		it := items[i%n]
		it.ID = fmt.Sprintf("%s%s%d", it.ID, dupSuffix, i/n+1)
		items = append(items, it)
	}
	return items
}

func (o *Orchestrator) remember(items []types.FeedItem) {
	for _, it := range items {
		o.recent.Add(it.ID, it)
	}
}

// Lookup returns a recently served item.
func (o *Orchestrator) Lookup(id string) (types.FeedItem, bool) {
	return o.recent.Get(id)
}

// Detail expands a recently served item through its connector.
func (o *Orchestrator) Detail(ctx context.Context, id, user string) (*types.Detail, error) {
	it, ok := o.Lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	it.ID, _, _ = strings.Cut(it.ID, dupSuffix)
	q, ok := o.queries[strings.ToLower(it.Query)]
	if !ok {
		q = types.QueryConfig{Key: it.Query, Source: it.Source}
	}
	d, err := o.details.GetDetail(ctx, q, it, user)
	if err != nil {
		return nil, err
	}
	d.ID = id
	return d, nil
}
