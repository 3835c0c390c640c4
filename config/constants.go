package config

import "time"

// Application identity
const (
	AppName = "scrollfeed"
)

// Server defaults
const (
	DefaultPort      = "8080"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Cache defaults
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	DefaultCachePrefix = "scrollfeed:cache:"
)

// Kafka defaults
const (
	DefaultKafkaTopic   = "scrollfeed-cache-invalidation"
	DefaultKafkaGroupID = "scrollfeed-cache"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server and workers.
const ShutdownTimeout = 10 * time.Second
