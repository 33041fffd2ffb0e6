package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/DeafMist/civic-radar/internal/failure"
)

// Common contains store and search parameters shared by every service.
type Common struct {
	Environment        string        `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseDriver     string        `envconfig:"DATABASE_DRIVER" default:"postgres"`
	DatabaseURL        string        `envconfig:"DATABASE_URL" required:"true"`
	StoreTimeout       time.Duration `envconfig:"STORE_TIMEOUT" default:"30s"`
	ElasticsearchAddr  string        `envconfig:"ELASTICSEARCH_ADDR" default:"http://elasticsearch:9200"`
	ElasticsearchIndex string        `envconfig:"ELASTICSEARCH_INDEX" default:"content"`
}

// Semantic configures the embedding provider behind the vector similarity gateway.
type Semantic struct {
	SemanticEnabled   bool          `envconfig:"SEMANTIC_ENABLED" default:"false"`
	SemanticThreshold float64       `envconfig:"SEMANTIC_THRESHOLD" default:"0.92"`
	SemanticTimeout   time.Duration `envconfig:"SEMANTIC_TIMEOUT" default:"10s"`
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel    string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDims     int           `envconfig:"EMBEDDING_DIMS" default:"1536"`
}

// Worker holds configuration for the Kafka -> store/index ingest worker.
type Worker struct {
	Common
	Semantic
	KafkaBrokers      []string      `envconfig:"KAFKA_BROKERS" default:"kafka:9092"`
	KafkaTopic        string        `envconfig:"KAFKA_TOPIC" default:"content_raw"`
	KafkaConsumer     string        `envconfig:"KAFKA_CONSUMER_GROUP" default:"content-worker"`
	BatchSize         int           `envconfig:"WORKER_BATCH_SIZE" default:"10"`
	DedupeCapacity    int           `envconfig:"WORKER_DEDUPE_CAPACITY" default:"20000"`
	DedupeTTL         time.Duration `envconfig:"WORKER_DEDUPE_TTL" default:"24h"`
	ScreenThreshold   float64       `envconfig:"SCREEN_THRESHOLD" default:"0.9"`
	ScreenWindow      time.Duration `envconfig:"SCREEN_WINDOW" default:"72h"`
	// ScreenCandidates bounds the recent items compared with each message.
	ScreenCandidates  int           `envconfig:"SCREEN_MAX_CANDIDATES" default:"500"`
	KeywordLimit      int           `envconfig:"WORKER_KEYWORD_LIMIT" default:"5"`
	ClassifierModel   string        `envconfig:"CLASSIFIER_MODEL" default:"gpt-4o-mini"`
	ClassifierTimeout time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"30s"`
	HoaxThreshold     float64       `envconfig:"HOAX_MATCH_THRESHOLD" default:"0.85"`
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr       string        `envconfig:"API_BIND_ADDR" default:"0.0.0.0:8080"`
	DefaultPage    int           `envconfig:"API_PAGE_SIZE" default:"20"`
	MaxPage        int           `envconfig:"API_MAX_PAGE_SIZE" default:"100"`
	DedupThreshold float64       `envconfig:"DEDUP_THRESHOLD" default:"0.85"`
	DedupWindow    time.Duration `envconfig:"DEDUP_WINDOW" default:"720h"`
	MaxCandidates  int           `envconfig:"MAX_CANDIDATES" default:"5000"`
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration `envconfig:"RETENTION_CRON" default:"24h"`
	MaxAge    time.Duration `envconfig:"RETENTION_MAX_AGE" default:"2160h"`
	BatchSize int           `envconfig:"RETENTION_BATCH_SIZE" default:"500"`
}

// Maintenance configures the batch deduplication job.
type Maintenance struct {
	Common
	Semantic
	DedupThreshold   float64       `envconfig:"DEDUP_THRESHOLD" default:"0.85"`
	DedupWindow      time.Duration `envconfig:"DEDUP_WINDOW" default:"720h"`
	MaxCandidates    int           `envconfig:"MAX_CANDIDATES" default:"5000"`
	BatchDeleteSize  int           `envconfig:"BATCH_DELETE_SIZE" default:"50"`
	BatchDeleteDelay time.Duration `envconfig:"BATCH_DELETE_DELAY" default:"500ms"`
	JobTimeout       time.Duration `envconfig:"JOB_TIMEOUT" default:"10m"`
}

// Trends configures the trend aggregation and emerging-issue job.
type Trends struct {
	Common
	TrendWindow        time.Duration     `envconfig:"TREND_WINDOW" default:"24h"`
	TrendRetentionDays int               `envconfig:"TREND_RETENTION_DAYS" default:"7"`
	IssueRetentionDays int               `envconfig:"ISSUE_RETENTION_DAYS" default:"3"`
	VelocityThreshold  float64           `envconfig:"VELOCITY_THRESHOLD" default:"50"`
	MinimumIssueSize   int               `envconfig:"MINIMUM_ISSUE_SIZE" default:"5"`
	UrgentThreshold    int               `envconfig:"URGENT_THRESHOLD" default:"7"`
	KeywordLimit       int               `envconfig:"TRENDS_KEYWORD_LIMIT" default:"5"`
	Departments        map[string]string `envconfig:"DEPARTMENT_KEYWORDS" default:"jalan:Dinas Pekerjaan Umum,jembatan:Dinas Pekerjaan Umum,banjir:BPBD,longsor:BPBD,kebakaran:Dinas Pemadam Kebakaran,sampah:Dinas Lingkungan Hidup,limbah:Dinas Lingkungan Hidup,kesehatan:Dinas Kesehatan,rumah sakit:Dinas Kesehatan,puskesmas:Dinas Kesehatan,sekolah:Dinas Pendidikan,guru:Dinas Pendidikan,macet:Dinas Perhubungan,angkot:Dinas Perhubungan,listrik:Dinas ESDM,pdam:PDAM,kriminal:Kepolisian,pencurian:Kepolisian"`
	DefaultDepartment  string            `envconfig:"DEFAULT_DEPARTMENT" default:"Sekretariat Daerah"`
	CategoryLabels     map[string]string `envconfig:"CATEGORY_LABELS" default:"infrastructure:Infrastruktur,disaster:Bencana,health:Kesehatan,education:Pendidikan,environment:Lingkungan,security:Keamanan,transportation:Transportasi,public_service:Pelayanan Publik,economy:Ekonomi,social:Sosial"`
	TelegramToken      string            `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID     int64             `envconfig:"TELEGRAM_CHAT_ID"`
	JobTimeout         time.Duration     `envconfig:"JOB_TIMEOUT" default:"10m"`
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	var c Worker
	if err := process(&c); err != nil {
		return nil, err
	}
	c.KafkaBrokers = splitAndTrim(strings.Join(c.KafkaBrokers, ","))

	if len(c.KafkaBrokers) == 0 {
		return nil, invalid("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, invalid("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, invalid("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.KeywordLimit <= 0 {
		return nil, invalid("WORKER_KEYWORD_LIMIT must be positive")
	}
	if c.ScreenWindow <= 0 {
		return nil, invalid("SCREEN_WINDOW must be positive")
	}
	if c.ScreenCandidates <= 0 {
		return nil, invalid("SCREEN_MAX_CANDIDATES must be positive")
	}
	if err := validThreshold("SCREEN_THRESHOLD", c.ScreenThreshold); err != nil {
		return nil, err
	}
	if err := validThreshold("HOAX_MATCH_THRESHOLD", c.HoaxThreshold); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return nil, invalid("OPENAI_API_KEY is required by the worker classifier")
	}
	if err := c.Semantic.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	var c API
	if err := process(&c); err != nil {
		return nil, err
	}

	if c.DefaultPage <= 0 {
		return nil, invalid("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, invalid("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, invalid("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}
	if c.DedupWindow <= 0 {
		return nil, invalid("DEDUP_WINDOW must be positive")
	}
	if c.MaxCandidates <= 0 {
		return nil, invalid("MAX_CANDIDATES must be positive")
	}
	if err := validThreshold("DEDUP_THRESHOLD", c.DedupThreshold); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	var c Retention
	if err := process(&c); err != nil {
		return nil, err
	}

	if c.MaxAge <= 0 {
		return nil, invalid("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, invalid("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, invalid("RETENTION_BATCH_SIZE must be positive")
	}
	return &c, nil
}

// LoadMaintenance builds a Maintenance config from environment variables.
func LoadMaintenance() (*Maintenance, error) {
	var c Maintenance
	if err := process(&c); err != nil {
		return nil, err
	}

	if err := validThreshold("DEDUP_THRESHOLD", c.DedupThreshold); err != nil {
		return nil, err
	}
	if c.DedupWindow <= 0 {
		return nil, invalid("DEDUP_WINDOW must be positive")
	}
	if c.MaxCandidates <= 0 {
		return nil, invalid("MAX_CANDIDATES must be positive")
	}
	if c.BatchDeleteSize <= 0 {
		return nil, invalid("BATCH_DELETE_SIZE must be positive")
	}
	if c.BatchDeleteDelay < 0 {
		return nil, invalid("BATCH_DELETE_DELAY cannot be negative")
	}
	if c.JobTimeout <= 0 {
		return nil, invalid("JOB_TIMEOUT must be positive")
	}
	if err := c.Semantic.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadTrends builds a Trends config from environment variables.
func LoadTrends() (*Trends, error) {
	var c Trends
	if err := process(&c); err != nil {
		return nil, err
	}

	if c.TrendWindow <= 0 {
		return nil, invalid("TREND_WINDOW must be positive")
	}
	if c.TrendRetentionDays <= 0 {
		return nil, invalid("TREND_RETENTION_DAYS must be positive")
	}
	if c.IssueRetentionDays <= 0 {
		return nil, invalid("ISSUE_RETENTION_DAYS must be positive")
	}
	if c.VelocityThreshold <= 0 {
		return nil, invalid("VELOCITY_THRESHOLD must be positive")
	}
	if c.MinimumIssueSize <= 0 {
		return nil, invalid("MINIMUM_ISSUE_SIZE must be positive")
	}
	if c.UrgentThreshold < 0 || c.UrgentThreshold > 10 {
		return nil, invalid("URGENT_THRESHOLD must be between 0 and 10")
	}
	if c.KeywordLimit <= 0 {
		return nil, invalid("TRENDS_KEYWORD_LIMIT must be positive")
	}
	if strings.TrimSpace(c.DefaultDepartment) == "" {
		return nil, invalid("DEFAULT_DEPARTMENT is required")
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return nil, invalid("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.JobTimeout <= 0 {
		return nil, invalid("JOB_TIMEOUT must be positive")
	}
	return &c, nil
}

type validator interface {
	common() *Common
}

func (c *Common) common() *Common { return c }

func process(spec validator) error {
	if err := envconfig.Process("", spec); err != nil {
		return fmt.Errorf("%w: %v", failure.ErrConfig, err)
	}
	return spec.common().validate()
}

func (c *Common) validate() error {
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return invalid("DATABASE_DRIVER must be postgres or sqlite")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return invalid("DATABASE_URL is required")
	}
	if c.StoreTimeout <= 0 {
		return invalid("STORE_TIMEOUT must be positive")
	}
	return nil
}

func (s *Semantic) validate() error {
	if !s.SemanticEnabled {
		return nil
	}
	if strings.TrimSpace(s.OpenAIAPIKey) == "" {
		return invalid("OPENAI_API_KEY is required when SEMANTIC_ENABLED is true")
	}
	if s.EmbeddingDims <= 0 {
		return invalid("EMBEDDING_DIMS must be positive")
	}
	if s.SemanticTimeout <= 0 {
		return invalid("SEMANTIC_TIMEOUT must be positive")
	}
	return validThreshold("SEMANTIC_THRESHOLD", s.SemanticThreshold)
}

func validThreshold(name string, v float64) error {
	if v <= 0 || v > 1 {
		return invalid(name + " must be in (0, 1]")
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", failure.ErrConfig, msg)
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
