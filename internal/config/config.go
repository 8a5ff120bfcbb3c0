package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendLocal         = "local"
	BackendElasticsearch = "elasticsearch"
	BackendMongo         = "mongo"
)

const devSecret = "dev-secret"

// Common contains storage and outbound HTTP parameters shared by every service.
type Common struct {
	Env                string
	StorageBackend     string
	DataDir            string
	ElasticsearchAddr  string
	ElasticsearchIndex string
	MongoURI           string
	MongoDatabase      string
	MongoCollection    string
	UserAgent          string
	HTTPTimeout        time.Duration
	HTTPRetries        int
	SourcesFile        string
}

// Kafka carries the broker settings of the streaming binaries.
type Kafka struct {
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaConsumer string
}

// Limits configures the per-host politeness limiter.
type Limits struct {
	RateLimitQPS   float64
	RateLimitBurst float64
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	Limits
	Cluster
	BindAddr       string
	SharedSecret   string
	AllowedOrigins []string
	CMCAPIKey      string
}

// Cluster holds the clustering defaults used when a request omits them.
type Cluster struct {
	WindowMinutes       int
	SimilarityThreshold float64
}

// Ingest configures the periodic feed ingestion binary.
type Ingest struct {
	Common
	Limits
	Kafka
	Sources      []string
	Interval     time.Duration
	MaxPerSource int
	Concurrency  int
}

// Worker holds configuration for the Kafka -> clustering worker.
type Worker struct {
	Common
	Kafka
	Cluster
	BatchSize     int
	FlushInterval time.Duration
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	ScanLimit int
	DryRun    bool
}

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. A missing default .env is fine.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func loadCommon() (Common, error) {
	c := Common{
		Env:                getEnv("ENV", "development"),
		StorageBackend:     strings.ToLower(getEnv("STORAGE_BACKEND", BackendLocal)),
		DataDir:            getEnv("DATA_DIR", ".data"),
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "records"),
		MongoURI:           getEnv("MONGO_URI", "mongodb://mongo:27017"),
		MongoDatabase:      getEnv("MONGO_DATABASE", "crypto_news"),
		MongoCollection:    getEnv("MONGO_COLLECTION", "records"),
		UserAgent:          getEnv("USER_AGENT", "crypto-news-radar/1.0 (+https://github.com/DeafMist/crypto-news-radar)"),
		HTTPTimeout:        getDuration("HTTP_TIMEOUT", "15s"),
		HTTPRetries:        getInt("HTTP_RETRIES", 3),
		SourcesFile:        getEnv("SOURCES_FILE", ""),
	}

	switch c.StorageBackend {
	case BackendLocal, BackendElasticsearch, BackendMongo:
	default:
		return c, fmt.Errorf("STORAGE_BACKEND %q is not one of local, elasticsearch, mongo", c.StorageBackend)
	}
	if c.HTTPTimeout <= 0 {
		return c, fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if c.HTTPRetries <= 0 {
		return c, fmt.Errorf("HTTP_RETRIES must be positive")
	}
	return c, nil
}

// IsProduction reports whether ENV is production.
func (c Common) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func loadKafka(defaultGroup string) (Kafka, error) {
	k := Kafka{
		KafkaBrokers:  splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "news_items"),
		KafkaConsumer: getEnv("KAFKA_CONSUMER_GROUP", defaultGroup),
	}
	if len(k.KafkaBrokers) == 0 {
		return k, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	return k, nil
}

func loadLimits() (Limits, error) {
	l := Limits{
		RateLimitQPS:   getFloat("RATE_LIMIT_QPS", 0.5),
		RateLimitBurst: getFloat("RATE_LIMIT_BURST", 1.0),
	}
	if l.RateLimitQPS <= 0 {
		return l, fmt.Errorf("RATE_LIMIT_QPS must be positive")
	}
	if l.RateLimitBurst < 1 {
		return l, fmt.Errorf("RATE_LIMIT_BURST must be at least 1")
	}
	return l, nil
}

func loadCluster() (Cluster, error) {
	c := Cluster{
		WindowMinutes:       getInt("CLUSTER_WINDOW_MINUTES", 180),
		SimilarityThreshold: getFloat("CLUSTER_SIMILARITY_THRESHOLD", 0.82),
	}
	if c.WindowMinutes < 1 || c.WindowMinutes > 720 {
		return c, fmt.Errorf("CLUSTER_WINDOW_MINUTES must be within 1..720")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return c, fmt.Errorf("CLUSTER_SIMILARITY_THRESHOLD must be within 0..1")
	}
	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}
	limits, err := loadLimits()
	if err != nil {
		return nil, err
	}
	cluster, err := loadCluster()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:         common,
		Limits:         limits,
		Cluster:        cluster,
		BindAddr:       getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		SharedSecret:   getEnv("HMAC_SHARED_SECRET", ""),
		AllowedOrigins: splitAndTrim(getEnv("ALLOWED_ORIGINS", "")),
		CMCAPIKey:      getEnv("CMC_API_KEY", ""),
	}

	if c.SharedSecret == "" {
		if c.IsProduction() {
			return nil, fmt.Errorf("HMAC_SHARED_SECRET is required in production")
		}
		c.SharedSecret = devSecret
	}

	return c, nil
}

// LoadIngest builds an Ingest config from environment variables.
func LoadIngest() (*Ingest, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}
	limits, err := loadLimits()
	if err != nil {
		return nil, err
	}
	kafka, err := loadKafka("news-ingest")
	if err != nil {
		return nil, err
	}

	c := &Ingest{
		Common:       common,
		Limits:       limits,
		Kafka:        kafka,
		Sources:      splitAndTrim(getEnv("INGEST_SOURCES", "coindesk,theblock,blockworks,cointelegraph,decrypt")),
		Interval:     getDuration("INGEST_INTERVAL", "15m"),
		MaxPerSource: getInt("INGEST_MAX_PER_SOURCE", 50),
		Concurrency:  getInt("INGEST_CONCURRENCY", 4),
	}

	if len(c.Sources) == 0 {
		return nil, fmt.Errorf("INGEST_SOURCES must list at least one source")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("INGEST_INTERVAL must be positive")
	}
	if c.MaxPerSource < 1 || c.MaxPerSource > 200 {
		return nil, fmt.Errorf("INGEST_MAX_PER_SOURCE must be within 1..200")
	}
	if c.Concurrency <= 0 {
		return nil, fmt.Errorf("INGEST_CONCURRENCY must be positive")
	}

	return c, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}
	kafka, err := loadKafka("news-worker")
	if err != nil {
		return nil, err
	}
	cluster, err := loadCluster()
	if err != nil {
		return nil, err
	}

	c := &Worker{
		Common:        common,
		Kafka:         kafka,
		Cluster:       cluster,
		BatchSize:     getInt("WORKER_BATCH_SIZE", 50),
		FlushInterval: getDuration("WORKER_FLUSH_INTERVAL", "30s"),
	}

	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.FlushInterval <= 0 {
		return nil, fmt.Errorf("WORKER_FLUSH_INTERVAL must be positive")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}

	c := &Retention{
		Common:    common,
		Interval:  getDuration("RETENTION_CRON", "24h"),
		ScanLimit: getInt("RETENTION_SCAN_LIMIT", 1000),
		DryRun:    getBool("RETENTION_DRY_RUN", false),
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.ScanLimit <= 0 {
		return nil, fmt.Errorf("RETENTION_SCAN_LIMIT must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
