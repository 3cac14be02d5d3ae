package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Embedding EmbeddingConfig
	Artifacts ArtifactsConfig
	Matching  MatchingConfig
	Training  TrainingConfig
	AMS       AMSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	MaxRequestsPerMinute int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type EmbeddingConfig struct {
	APIKey      string
	Model       string
	Dim         int
	Workers     int
	BatchBudget int
	MaxItems    int
	CostPerCall float64
	TimeoutSec  int
	MaxAttempts int
}

type ArtifactsConfig struct {
	Bucket string
	Prefix string
	Region string
}

type MatchingConfig struct {
	MaxCandidates int
	MinCandidates int
	TopResults    int
	ScoreWorkers  int
	DeadlineSec   int
}

type TrainingConfig struct {
	DaysLookback      int
	ContactWindowDays int
	MinRows           int
	AUCEpsilon        float64
}

type AMSConfig struct {
	ShortlistSize int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/thera-matcher")

	viper.SetEnvPrefix("THERA_MATCHER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Matching.MinCandidates > c.Matching.MaxCandidates {
		return fmt.Errorf("matching.minCandidates (%d) exceeds matching.maxCandidates (%d)",
			c.Matching.MinCandidates, c.Matching.MaxCandidates)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	if c.Training.AUCEpsilon < 0 {
		return fmt.Errorf("training.aucEpsilon must be non-negative, got %f", c.Training.AUCEpsilon)
	}
	return nil
}

func (c *Config) MatchDeadline() time.Duration {
	return time.Duration(c.Matching.DeadlineSec) * time.Second
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)
	viper.SetDefault("server.maxRequestsPerMinute", 120)

	viper.SetDefault("sqlite.path", "./data/matcher.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dim", 1536)
	viper.SetDefault("embedding.workers", 4)
	viper.SetDefault("embedding.batchBudget", 10000)
	viper.SetDefault("embedding.maxItems", 10000)
	viper.SetDefault("embedding.costPerCall", 0.0001)
	viper.SetDefault("embedding.timeoutSec", 15)
	viper.SetDefault("embedding.maxAttempts", 3)

	viper.SetDefault("artifacts.bucket", "thera-models")
	viper.SetDefault("artifacts.prefix", "match_lr")
	viper.SetDefault("artifacts.region", "us-east-1")

	viper.SetDefault("matching.maxCandidates", 5000)
	viper.SetDefault("matching.minCandidates", 5)
	viper.SetDefault("matching.topResults", 20)
	viper.SetDefault("matching.scoreWorkers", 4)
	viper.SetDefault("matching.deadlineSec", 3)

	viper.SetDefault("training.daysLookback", 14)
	viper.SetDefault("training.contactWindowDays", 14)
	viper.SetDefault("training.minRows", 100)
	viper.SetDefault("training.aucEpsilon", 0.01)

	viper.SetDefault("ams.shortlistSize", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
