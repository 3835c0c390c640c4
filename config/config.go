// Package config loads the YAML configuration, applies environment
// overrides and converts it into the settings of each component.
package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"scrollfeed/assembly"
	"scrollfeed/common"
	"scrollfeed/flex"
	"scrollfeed/pool"
	"scrollfeed/sourcecache"
	"scrollfeed/spacing"
	"scrollfeed/types"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

var validate = validator.New()

type ServerConfig struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=json console"`
}

type FeedConfig struct {
	BatchSize     int               `yaml:"batch_size" validate:"gte=0"`
	MaxBatchSize  int               `yaml:"max_batch_size" validate:"gte=0"`
	HalfLife      float64           `yaml:"half_life" validate:"gte=0"`
	RefillRounds  int               `yaml:"refill_rounds" validate:"gte=0"`
	FetchTimeout  Duration          `yaml:"fetch_timeout"`
	HistorySize   int               `yaml:"history_size" validate:"gte=0"`
	RecentSize    int               `yaml:"recent_size" validate:"gte=0"`
	DefaultMaxAge Duration          `yaml:"default_max_age"`
	Aliases       map[string]string `yaml:"aliases"`
}

// TierSpec configures one tier. Slots and the per-source descriptors take
// any form flex.ParseDescriptor accepts. Spacing overrides the global rules
// for the tier's items; keys it leaves out keep their global value.
type TierSpec struct {
	Name    string         `yaml:"name" validate:"required"`
	Slots   any            `yaml:"slots"`
	Sort    string         `yaml:"sort" validate:"omitempty,oneof=recency priority shuffle"`
	MaxAge  string         `yaml:"max_age"`
	Sources map[string]any `yaml:"sources"`
	Caps    map[string]int `yaml:"caps" validate:"dive,gte=0"`
	Fillers map[string]int `yaml:"fillers" validate:"dive,gte=0"`
	Spacing yaml.Node      `yaml:"spacing" validate:"-"`
}

type QuerySpec struct {
	Key       string            `yaml:"key" validate:"required"`
	Source    string            `yaml:"source" validate:"required"`
	Connector string            `yaml:"connector"`
	Tier      string            `yaml:"tier"`
	Priority  int               `yaml:"priority"`
	Limit     int               `yaml:"limit" validate:"gte=0"`
	Params    map[string]string `yaml:"params"`
	Padding   bool              `yaml:"padding"`
	MaxAge    string            `yaml:"max_age"`
	TTL       Duration          `yaml:"ttl"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix"`
}

type CacheConfig struct {
	Backend        string              `yaml:"backend" validate:"omitempty,oneof=memory redis"`
	MaxEntries     int                 `yaml:"max_entries" validate:"gte=0"`
	DefaultTTL     Duration            `yaml:"default_ttl"`
	SourceTTL      map[string]Duration `yaml:"source_ttl"`
	RefreshTimeout Duration            `yaml:"refresh_timeout"`
	WarmSchedule   string              `yaml:"warm_schedule"`
	Redis          RedisConfig         `yaml:"redis"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type S3Config struct {
	Region       string `yaml:"region"`
	Profile      string `yaml:"profile"`
	UsePathStyle bool   `yaml:"use_path_style"`
	Endpoint     string `yaml:"endpoint"`
}

type Config struct {
	Server  ServerConfig      `yaml:"server"`
	Feed    FeedConfig        `yaml:"feed"`
	Spacing spacing.Rules     `yaml:"spacing"`
	Tiers   []TierSpec        `yaml:"tiers" validate:"dive"`
	Queries []QuerySpec       `yaml:"queries" validate:"required,min=1,dive"`
	MaxAge  map[string]string `yaml:"max_age"`
	Cache   CacheConfig       `yaml:"cache"`
	Kafka   KafkaConfig       `yaml:"kafka"`
	S3      S3Config          `yaml:"s3"`
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// Default returns the embedded configuration.
func Default() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document. Environment overrides are
// not applied.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Spacing: spacing.DefaultRules()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads path, or the XDG config path when empty, falling back to the
// embedded defaults when the file does not exist. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if cfg, err = Default(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = DefaultLogLevel
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = DefaultLogFormat
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendMemory
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = DefaultCachePrefix
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = DefaultKafkaGroupID
	}
}

// applyEnv overrides deployment settings from the environment.
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Server.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
		c.Cache.Backend = CacheBackendRedis
	}
	if v := os.Getenv("REDIS_PASS"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := os.Getenv("S3_PROFILE"); v != "" {
		c.S3.Profile = v
	}
	if v := os.Getenv("S3_USE_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("S3_USE_PATH_STYLE: %w", err)
		}
		c.S3.UsePathStyle = b
	}
	return validate.Struct(c.Server)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var knownTiers = map[types.Tier]bool{
	types.TierWire:      true,
	types.TierLongform:  true,
	types.TierMemory:    true,
	types.TierDashboard: true,
}

// Validate checks struct tags and the semantic rules the tags cannot
// express. Every problem is reported.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	tiers := make(map[string]bool)
	for _, t := range c.Tiers {
		if !knownTiers[types.Tier(t.Name)] {
			errs = append(errs, fmt.Errorf("tier %q: unknown tier", t.Name))
		}
		if tiers[t.Name] {
			errs = append(errs, fmt.Errorf("tier %q: declared twice", t.Name))
		}
		tiers[t.Name] = true
		if _, err := tierConfig(t); err != nil {
			errs = append(errs, err)
		}
		if _, err := parseMaxAge(t.MaxAge); err != nil {
			errs = append(errs, fmt.Errorf("tier %q: max_age: %w", t.Name, err))
		}
		if _, err := c.tierSpacing(t); err != nil {
			errs = append(errs, err)
		}
	}

	keys := make(map[string]bool)
	for _, q := range c.Queries {
		if keys[q.Key] {
			errs = append(errs, fmt.Errorf("query %q: duplicate key", q.Key))
		}
		keys[q.Key] = true
		if q.Tier != "" && !knownTiers[types.Tier(q.Tier)] {
			errs = append(errs, fmt.Errorf("query %q: unknown tier %q", q.Key, q.Tier))
		}
		if _, err := parseMaxAge(q.MaxAge); err != nil {
			errs = append(errs, fmt.Errorf("query %q: max_age: %w", q.Key, err))
		}
	}

	for source, s := range c.MaxAge {
		if _, err := parseMaxAge(s); err != nil {
			errs = append(errs, fmt.Errorf("max_age %q: %w", source, err))
		}
	}
	if c.Cache.Backend == CacheBackendRedis && c.Cache.Redis.Addr == "" {
		errs = append(errs, errors.New("cache: redis backend requires redis.addr"))
	}
	return errors.Join(errs...)
}

func tierConfig(t TierSpec) (assembly.TierConfig, error) {
	slots, err := flex.ParseDescriptor(t.Slots)
	if err != nil {
		return assembly.TierConfig{}, fmt.Errorf("tier %q: slots: %w", t.Name, err)
	}
	sort, err := assembly.ParseSort(t.Sort)
	if err != nil {
		return assembly.TierConfig{}, fmt.Errorf("tier %q: %w", t.Name, err)
	}
	tc := assembly.TierConfig{
		Tier:       types.Tier(t.Name),
		Slots:      slots,
		Sort:       sort,
		SourceCaps: t.Caps,
		Fillers:    t.Fillers,
	}
	if len(t.Sources) > 0 {
		tc.SourceSlots = make(map[string]flex.Descriptor, len(t.Sources))
		for source, raw := range t.Sources {
			d, err := flex.ParseDescriptor(raw)
			if err != nil {
				return assembly.TierConfig{}, fmt.Errorf("tier %q: source %q: %w", t.Name, source, err)
			}
			tc.SourceSlots[source] = d
		}
	}
	return tc, nil
}

func (c *Config) tierSpacing(t TierSpec) (spacing.Rules, error) {
	r := c.Spacing
	if t.Spacing.IsZero() {
		return r, nil
	}
	if err := t.Spacing.Decode(&r); err != nil {
		return r, fmt.Errorf("tier %q: spacing: %w", t.Name, err)
	}
	if err := validate.Struct(r); err != nil {
		return r, fmt.Errorf("tier %q: spacing: %w", t.Name, err)
	}
	return r, nil
}

// TierSpacing returns the spacing rules of the tiers that override them.
func (c *Config) TierSpacing() (map[types.Tier]spacing.Rules, error) {
	out := make(map[types.Tier]spacing.Rules)
	for _, t := range c.Tiers {
		if t.Spacing.IsZero() {
			continue
		}
		r, err := c.tierSpacing(t)
		if err != nil {
			return nil, err
		}
		out[types.Tier(t.Name)] = r
	}
	return out, nil
}

// Assembly converts the tier list, in configured order.
func (c *Config) Assembly() (assembly.Config, error) {
	out := assembly.Config{HalfLife: c.Feed.HalfLife}
	for _, t := range c.Tiers {
		tc, err := tierConfig(t)
		if err != nil {
			return assembly.Config{}, err
		}
		out.Tiers = append(out.Tiers, tc)
	}
	return out, nil
}

// QueryConfigs converts the configured queries.
func (c *Config) QueryConfigs() ([]types.QueryConfig, error) {
	out := make([]types.QueryConfig, 0, len(c.Queries))
	for _, q := range c.Queries {
		maxAge, err := parseMaxAge(q.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("query %q: max_age: %w", q.Key, err)
		}
		out = append(out, types.QueryConfig{
			Key:       q.Key,
			Source:    q.Source,
			Connector: q.Connector,
			Tier:      types.Tier(q.Tier),
			Priority:  q.Priority,
			Limit:     q.Limit,
			Params:    q.Params,
			Padding:   q.Padding,
			MaxAge:    maxAge,
			TTL:       q.TTL.Std(),
		})
	}
	return out, nil
}

// AgePolicy collects the configured source and tier ceilings.
func (c *Config) AgePolicy() (pool.AgePolicy, error) {
	p := pool.AgePolicy{
		Sources:  make(map[string]time.Duration),
		Tiers:    make(map[types.Tier]time.Duration),
		Fallback: c.Feed.DefaultMaxAge.Std(),
	}
	for source, s := range c.MaxAge {
		d, err := parseMaxAge(s)
		if err != nil {
			return pool.AgePolicy{}, fmt.Errorf("max_age %q: %w", source, err)
		}
		if d != nil {
			p.Sources[source] = *d
		}
	}
	for _, t := range c.Tiers {
		d, err := parseMaxAge(t.MaxAge)
		if err != nil {
			return pool.AgePolicy{}, fmt.Errorf("tier %q: max_age: %w", t.Name, err)
		}
		if d != nil {
			p.Tiers[types.Tier(t.Name)] = *d
		}
	}
	return p, nil
}

// Pool builds the pool manager settings.
func (c *Config) Pool() (pool.Config, error) {
	queries, err := c.QueryConfigs()
	if err != nil {
		return pool.Config{}, err
	}
	ages, err := c.AgePolicy()
	if err != nil {
		return pool.Config{}, err
	}
	return pool.Config{
		Queries:      queries,
		FetchTimeout: c.Feed.FetchTimeout.Std(),
		RefillRounds: c.Feed.RefillRounds,
		HistorySize:  c.Feed.HistorySize,
		Ages:         ages,
	}, nil
}

// SourceCache builds the cache settings.
func (c *Config) SourceCache() sourcecache.Config {
	out := sourcecache.Config{
		DefaultTTL:     c.Cache.DefaultTTL.Std(),
		RefreshTimeout: c.Cache.RefreshTimeout.Std(),
	}
	if len(c.Cache.SourceTTL) > 0 {
		out.SourceTTL = make(map[string]time.Duration, len(c.Cache.SourceTTL))
		for k, v := range c.Cache.SourceTTL {
			out.SourceTTL[k] = v.Std()
		}
	}
	return out
}

// Redis builds the redis store settings.
func (c *Config) Redis() sourcecache.RedisConfig {
	r := c.Cache.Redis
	return sourcecache.RedisConfig{Addr: r.Addr, Password: r.Password, DB: r.DB, Prefix: r.Prefix}
}

// ObjectStore builds the S3 client settings.
func (c *Config) ObjectStore() common.S3Config {
	return common.S3Config{
		Region:       c.S3.Region,
		Profile:      c.S3.Profile,
		UsePathStyle: c.S3.UsePathStyle,
		Endpoint:     c.S3.Endpoint,
	}
}

// NeedsObjectStore reports whether any query uses the photo connector.
func (c *Config) NeedsObjectStore() bool {
	for _, q := range c.Queries {
		name := q.Connector
		if name == "" {
			name = q.Source
		}
		if name == "photos" {
			return true
		}
	}
	return false
}
