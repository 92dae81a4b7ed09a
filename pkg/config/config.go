package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Reddit     RedditConfig
	Extraction ExtractionConfig
	Detection  DetectionConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type RedditConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	BaseURL      string
	AuthURL      string
	TimeoutSec   int
}

type ExtractionConfig struct {
	PageLimit      int
	RequestDelayMS int
}

type DetectionConfig struct {
	AnomalyWeight float64
	Workers       int
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
	viper.AddConfigPath("/etc/botsentry")

	viper.SetEnvPrefix("BOTSENTRY")
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

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/botsentry.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 1800)

	viper.SetDefault("reddit.userAgent", "botsentry/1.0 (bot detection research)")
	viper.SetDefault("reddit.baseURL", "https://oauth.reddit.com")
	viper.SetDefault("reddit.authURL", "https://www.reddit.com/api/v1/access_token")
	viper.SetDefault("reddit.timeoutSec", 15)

	viper.SetDefault("extraction.pageLimit", 100)
	viper.SetDefault("extraction.requestDelayMS", 100)

	viper.SetDefault("detection.anomalyWeight", 0.0)
	viper.SetDefault("detection.workers", 8)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
