// Package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the full application configuration.
type Config struct {
	DB      DBConfig
	Server  ServerConfig
	Fetch   FetchConfig
	Images  ImageConfig
	Extract ExtractConfig
	Reddit  RedditConfig
	YouTube YouTubeConfig
	S3      S3Config
	Worker  WorkerConfig
}

// DBConfig holds PostgreSQL connection parameters.
type DBConfig struct {
	Host    string
	Port    int
	User    string
	Pass    string
	DBName  string
	SSLMode string
}

// DSN returns a PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Pass +
		"@" + c.Host + ":" + strconv.Itoa(c.Port) +
		"/" + c.DBName + "?sslmode=" + c.SSLMode
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port string
	Host string
}

// Addr returns the full listen address (host:port).
func (c ServerConfig) Addr() string {
	return c.Host + c.Port
}

// FetchConfig holds HTTP fetcher parameters.
type FetchConfig struct {
	UserAgent      string
	ArticleTimeout time.Duration
	ImageTimeout   time.Duration
	MaxRetries     int
	HostInterval   time.Duration
}

// ImageConfig holds the image processing budgets and quality knobs.
type ImageConfig struct {
	MaxHeaderWidth   int
	MaxHeaderHeight  int
	JPEGQuality      int
	PreferJPEG       bool
	MinBodyBytes     int
	SkipBelowBytes   int
	CompressEnabled  bool
	Base64Enabled    bool
}

// ExtractConfig holds header/embed extraction parameters.
type ExtractConfig struct {
	HeaderEnabled    bool
	EmbedsEnabled    bool
	FxTwitterBase    string
	YouTubeThumbBase string
	ProxyPath        string
	MinBodyImgWidth  int
	MinBodyImgHeight int
	MinHeadImgWidth  int
	MinHeadImgHeight int
}

// RedditConfig holds the Reddit API endpoints. Credentials are per-user and
// live in the user_settings table.
type RedditConfig struct {
	APIBase   string
	TokenURL  string
	EmbedBase string
}

// YouTubeConfig holds the YouTube Data API endpoints. The API key is per-user.
type YouTubeConfig struct {
	APIBase   string
	EmbedBase string
}

// S3Config holds S3-compatible object storage parameters for raw snapshots.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// WorkerConfig holds the cron schedules and fan-out bounds of the worker.
type WorkerConfig struct {
	AggregateSchedule string
	CleanupSchedule   string
	PurgeSchedule     string
	MaxParallelFeeds  int
	RetentionDays     int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		DB: DBConfig{
			Host:    envOr("DB_HOST", "localhost"),
			Port:    envOrInt("DB_PORT", 5432),
			User:    envOr("DB_USER", "gleaner"),
			Pass:    envOr("DB_PASS", "gleaner"),
			DBName:  envOr("DB_NAME", "gleaner"),
			SSLMode: envOr("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Port: envOr("SERVER_PORT", ":8080"),
			Host: envOr("SERVER_HOST", ""),
		},
		Fetch: FetchConfig{
			UserAgent: envOr("FETCH_USER_AGENT",
				"Mozilla/5.0 (X11; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0"),
			ArticleTimeout: envOrDuration("FETCH_ARTICLE_TIMEOUT", 30*time.Second),
			ImageTimeout:   envOrDuration("FETCH_IMAGE_TIMEOUT", 10*time.Second),
			MaxRetries:     envOrInt("FETCH_MAX_RETRIES", 3),
			HostInterval:   envOrDuration("FETCH_HOST_INTERVAL", 500*time.Millisecond),
		},
		Images: ImageConfig{
			MaxHeaderWidth:  envOrInt("IMAGE_MAX_HEADER_WIDTH", 1200),
			MaxHeaderHeight: envOrInt("IMAGE_MAX_HEADER_HEIGHT", 1200),
			JPEGQuality:     envOrInt("IMAGE_JPEG_QUALITY", 65),
			PreferJPEG:      envOrBool("IMAGE_PREFER_JPEG", true),
			MinBodyBytes:    envOrInt("IMAGE_MIN_BYTES", 100),
			SkipBelowBytes:  envOrInt("IMAGE_SKIP_BELOW_BYTES", 5*1024),
			CompressEnabled: envOrBool("IMAGE_COMPRESS_ENABLED", true),
			Base64Enabled:   envOrBool("IMAGE_BASE64_ENABLED", true),
		},
		Extract: ExtractConfig{
			HeaderEnabled:    envOrBool("EXTRACT_HEADER_ENABLED", true),
			EmbedsEnabled:    envOrBool("EXTRACT_EMBEDS_ENABLED", true),
			FxTwitterBase:    envOr("FXTWITTER_BASE", "https://fxtwitter.com"),
			YouTubeThumbBase: envOr("YOUTUBE_THUMB_BASE", "https://img.youtube.com/vi"),
			ProxyPath:        envOr("YOUTUBE_PROXY_PATH", "/api/youtube-proxy"),
			MinBodyImgWidth:  envOrInt("EXTRACT_MIN_BODY_IMG_WIDTH", 100),
			MinBodyImgHeight: envOrInt("EXTRACT_MIN_BODY_IMG_HEIGHT", 50),
			MinHeadImgWidth:  envOrInt("EXTRACT_MIN_HEADER_IMG_WIDTH", 200),
			MinHeadImgHeight: envOrInt("EXTRACT_MIN_HEADER_IMG_HEIGHT", 200),
		},
		Reddit: RedditConfig{
			APIBase:   envOr("REDDIT_API_BASE", "https://oauth.reddit.com"),
			TokenURL:  envOr("REDDIT_TOKEN_URL", "https://www.reddit.com/api/v1/access_token"),
			EmbedBase: envOr("REDDIT_EMBED_BASE", "https://www.redditmedia.com"),
		},
		YouTube: YouTubeConfig{
			APIBase:   envOr("YOUTUBE_API_BASE", "https://www.googleapis.com/youtube/v3"),
			EmbedBase: envOr("YOUTUBE_EMBED_BASE", "https://www.youtube-nocookie.com/embed"),
		},
		S3: S3Config{
			Endpoint:  envOr("S3_ENDPOINT", ""),
			Bucket:    envOr("S3_BUCKET", "gleaner-snapshots"),
			AccessKey: envOr("S3_ACCESS_KEY", ""),
			SecretKey: envOr("S3_SECRET_KEY", ""),
			Region:    envOr("S3_REGION", "us-east-1"),
		},
		Worker: WorkerConfig{
			AggregateSchedule: envOr("WORKER_AGGREGATE_SCHEDULE", "*/30 * * * *"),
			CleanupSchedule:   envOr("WORKER_CLEANUP_SCHEDULE", "30 3 * * *"),
			PurgeSchedule:     envOr("WORKER_PURGE_SCHEDULE", "15 * * * *"),
			MaxParallelFeeds:  envOrInt("WORKER_MAX_PARALLEL_FEEDS", 4),
			RetentionDays:     envOrInt("WORKER_RETENTION_DAYS", 90),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
