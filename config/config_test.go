package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"scrollfeed/assembly"
	"scrollfeed/flex"
	"scrollfeed/spacing"
	"scrollfeed/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Feed.BatchSize)
	assert.Equal(t, 48*time.Hour, cfg.Feed.DefaultMaxAge.Std())
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)

	ac, err := cfg.Assembly()
	require.NoError(t, err)
	require.Len(t, ac.Tiers, 4)
	assert.Equal(t, types.TierWire, ac.Tiers[0].Tier)
	assert.Equal(t, flex.Fill(), ac.Tiers[0].Slots)
	assert.Equal(t, flex.Share(), ac.Tiers[0].SourceSlots["hn"])
	assert.Equal(t, 4, ac.Tiers[0].SourceCaps["hn"])
	assert.Equal(t, flex.Fixed(2), ac.Tiers[2].Slots)
	assert.Equal(t, assembly.SortShuffle, ac.Tiers[2].Sort)
	assert.Equal(t, 2, ac.Tiers[3].Slots.Max)

	queries, err := cfg.QueryConfigs()
	require.NoError(t, err)
	require.Len(t, queries, 4)
	assert.Equal(t, "rss", queries[0].ConnectorName())
	assert.True(t, queries[2].Padding)
	assert.Equal(t, "tr", queries[3].Param("preset", ""))

	ages, err := cfg.AgePolicy()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ages.Sources["st"])
	assert.Equal(t, 14*24*time.Hour, ages.Tiers[types.TierLongform])
	d, ok := ages.Tiers[types.TierMemory]
	assert.True(t, ok)
	assert.Zero(t, d)

	tierSpacing, err := cfg.TierSpacing()
	require.NoError(t, err)
	require.Len(t, tierSpacing, 1)
	assert.Equal(t, 2, tierSpacing[types.TierMemory].MaxConsecutive)
	assert.Equal(t, 2, tierSpacing[types.TierMemory].MaxConsecutiveSubsource, "unset keys inherit the global rules")

	assert.Equal(t, 5*time.Minute, cfg.SourceCache().SourceTTL["hn"])
	assert.False(t, cfg.NeedsObjectStore())
}

func TestParseDefaultsSpacing(t *testing.T) {
	cfg, err := Parse([]byte(`
tiers:
  - name: wire
    slots: fill
queries:
  - key: hn
    source: hn
`))
	require.NoError(t, err)
	assert.Equal(t, spacing.DefaultRules(), cfg.Spacing)

	cfg, err = Parse([]byte(`
spacing:
  max_consecutive: 0
  min_spacing: 3
queries:
  - key: hn
    source: hn
`))
	require.NoError(t, err)
	assert.Zero(t, cfg.Spacing.MaxConsecutive, "explicit values win")
	assert.Equal(t, 2, cfg.Spacing.MaxConsecutiveSubsource)
	assert.Equal(t, 3, cfg.Spacing.MinSpacing)
}

func TestTierSpacingOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
spacing:
  max_consecutive: 1
  min_spacing: 4
tiers:
  - name: wire
    slots: fill
  - name: longform
    slots: 2
    spacing:
      min_spacing: 0
      max_per_source: 1
queries:
  - key: hn
    source: hn
`))
	require.NoError(t, err)
	ts, err := cfg.TierSpacing()
	require.NoError(t, err)
	assert.Equal(t, map[types.Tier]spacing.Rules{
		types.TierLongform: {MaxConsecutive: 1, MaxConsecutiveSubsource: 2, MaxPerSource: 1},
	}, ts)

	_, err = Parse([]byte(`
tiers:
  - name: wire
    slots: fill
    spacing:
      max_consecutive: -1
queries:
  - key: hn
    source: hn
`))
	assert.ErrorContains(t, err, `tier "wire": spacing`)
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"90s", 90 * time.Second, false},
		{"10m", 10 * time.Minute, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"soon", 0, true},
		{"d", 0, true},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := ParseDuration(c.in)
			if c.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestParseMaxAge(t *testing.T) {
	d, err := parseMaxAge("")
	require.NoError(t, err)
	assert.Nil(t, d)

	for _, s := range []string{"none", "Timeless"} {
		d, err = parseMaxAge(s)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Zero(t, *d)
	}

	d, err = parseMaxAge("3d")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, *d)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	doc := `
tiers:
  - name: wire
    slots: "fixed:x"
  - name: sidebar
    slots: fill
queries:
  - key: a
    source: a
    tier: nope
  - key: a
    source: b
    max_age: whenever
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, flex.ErrMalformedDescriptor)
	assert.ErrorContains(t, err, `tier "sidebar": unknown tier`)
	assert.ErrorContains(t, err, `unknown tier "nope"`)
	assert.ErrorContains(t, err, `query "a": duplicate key`)
	assert.ErrorContains(t, err, "whenever")
}

func TestValidateStructTags(t *testing.T) {
	_, err := Parse([]byte("queries: []\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("server:\n  log_level: loud\nqueries:\n  - key: a\n    source: a\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("cache:\n  backend: redis\nqueries:\n  - key: a\n    source: a\n"))
	assert.ErrorContains(t, err, "redis.addr")
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
server:
  port: "9000"
queries:
  - key: snaps
    source: photos
    tier: memory
    params:
      bucket: family
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	t.Setenv("PORT", "9100")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("S3_USE_PATH_STYLE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis().Addr)
	assert.Equal(t, DefaultCachePrefix, cfg.Redis().Prefix)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultKafkaTopic, cfg.Kafka.Topic)
	assert.True(t, cfg.ObjectStore().UsePathStyle)
	assert.True(t, cfg.NeedsObjectStore())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Queries, 4)
}
