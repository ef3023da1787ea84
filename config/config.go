package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type TLS struct {
	Port      string `mapstructure:"port"`
	CertFile  string `mapstructure:"certFile"`
	KeyFile   string `mapstructure:"keyFile"`
	EnableTLS bool   `mapstructure:"enableTLS"`
}

type Config struct {
	Mode     string `mapstructure:"mode"`
	Dotenv   string `mapstructure:"dotenv"`
	Handlers struct {
		Prometheus TLS `mapstructure:"prometheus"`
	} `mapstructure:"handlers"`
	Repositories struct {
		Postgres struct {
			Host     string `mapstructure:"host"`
			Password string `mapstructure:"password"`
			Port     string `mapstructure:"port"`
			Username string `mapstructure:"username"`
			DB       string `mapstructure:"db"`
			SSLMode  string `mapstructure:"sslmode"`
			MaxConns int32  `mapstructure:"maxConns"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	Server struct {
		HTTPPort        string        `mapstructure:"HTTPPort"`
		Timeout         time.Duration `mapstructure:"HTTPTimeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
		AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	} `mapstructure:"server"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
		Issuer    string `mapstructure:"issuer"`
		Audience  string `mapstructure:"audience"`
	} `mapstructure:"auth"`
	Log          LogConfig          `mapstructure:"log"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Tagging      TaggingConfig      `mapstructure:"tagging"`
	Retrieval    RetrievalConfig    `mapstructure:"retrieval"`
	Ranking      RankingConfig      `mapstructure:"ranking"`
	Itinerary    ItineraryConfig    `mapstructure:"itinerary"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

type ConversationConfig struct {
	MaxTurns          int           `mapstructure:"maxTurns"`
	MinTurns          int           `mapstructure:"minTurns"`
	TagThreshold      int           `mapstructure:"tagThreshold"`
	InactivityTimeout time.Duration `mapstructure:"inactivityTimeout"`
	SweepInterval     time.Duration `mapstructure:"sweepInterval"`
	MaxCategories     int           `mapstructure:"maxCategories"`
	MaxUtteranceRunes int           `mapstructure:"maxUtteranceRunes"`
	MaxPartySize      int           `mapstructure:"maxPartySize"`
}

type TaggingConfig struct {
	Backend             string `mapstructure:"backend"`
	FallbackToKeywords  bool   `mapstructure:"fallbackToKeywords"`
	Model               string `mapstructure:"model"`
	MaxTags             int    `mapstructure:"maxTags"`
	MaxTagRunes         int    `mapstructure:"maxTagRunes"`
	GeminiAPIKey        string `mapstructure:"geminiApiKey"`
	EmbeddingModel      string `mapstructure:"embeddingModel"`
	EmbeddingDimensions int32  `mapstructure:"embeddingDimensions"`
}

type RetrievalConfig struct {
	TopK          int           `mapstructure:"topK"`
	MinSimilarity float64       `mapstructure:"minSimilarity"`
	CacheTTL      time.Duration `mapstructure:"cacheTTL"`
	UseCache      bool          `mapstructure:"useCache"`
}

type RankingConfig struct {
	SimilarityWeight float64 `mapstructure:"similarityWeight"`
	PopularityWeight float64 `mapstructure:"popularityWeight"`
	NoveltyWeight    float64 `mapstructure:"noveltyWeight"`
	MaxResults       int     `mapstructure:"maxResults"`
	UseInteractions  bool    `mapstructure:"useInteractions"`
}

type ItineraryConfig struct {
	Provider              string        `mapstructure:"provider"`
	DefaultTransitMinutes int           `mapstructure:"defaultTransitMinutes"`
	RequestTimeout        time.Duration `mapstructure:"requestTimeout"`
	KakaoAPIKey           string        `mapstructure:"kakaoApiKey"`
	KakaoBaseURL          string        `mapstructure:"kakaoBaseURL"`
	TmapAPIKey            string        `mapstructure:"tmapApiKey"`
	TmapBaseURL           string        `mapstructure:"tmapBaseURL"`
}

// InitConfig reads config.yml from the usual locations, falling back to the
// embedded copy. Environment variables override keys, e.g.
// AUTH_JWTSECRET or REPOSITORIES_POSTGRES_HOST.
func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %w", err)
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return config, nil
}
