package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	// Route builder tuning.
	RouteStrategy        string  `mapstructure:"ROUTE_STRATEGY"` // "greedy" or "optimal"
	ToleranceMinutes     float64 `mapstructure:"TOLERANCE_MINUTES"`
	HandoverMinutes      float64 `mapstructure:"HANDOVER_MINUTES"`
	ExactSearchThreshold int     `mapstructure:"EXACT_SEARCH_THRESHOLD"`
	BeamWidth            int     `mapstructure:"BEAM_WIDTH"`
	SearchNodeBudget     int     `mapstructure:"SEARCH_NODE_BUDGET"`
	SearchTimeoutSec     int     `mapstructure:"SEARCH_TIMEOUT_SEC"`
	MaxStopsPerRoute     int     `mapstructure:"MAX_STOPS_PER_ROUTE"`

	// Cache manager tuning.
	CacheTTLMinutes      int `mapstructure:"CACHE_TTL_MINUTES"`
	GenerationTimeoutSec int `mapstructure:"GENERATION_TIMEOUT_SEC"`

	// Courier payout snapshot used when orders carry no precomputed earning.
	BaseFeePerStop float64 `mapstructure:"BASE_FEE_PER_STOP"`
	EarningPerKm   float64 `mapstructure:"EARNING_PER_KM"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("ROUTE_STRATEGY", "optimal")
	viper.SetDefault("TOLERANCE_MINUTES", 5)
	viper.SetDefault("HANDOVER_MINUTES", 3)
	viper.SetDefault("EXACT_SEARCH_THRESHOLD", 10)
	viper.SetDefault("BEAM_WIDTH", 64)
	viper.SetDefault("SEARCH_NODE_BUDGET", 50000)
	viper.SetDefault("SEARCH_TIMEOUT_SEC", 3)
	viper.SetDefault("MAX_STOPS_PER_ROUTE", 20)
	viper.SetDefault("CACHE_TTL_MINUTES", 5)
	viper.SetDefault("GENERATION_TIMEOUT_SEC", 15)
	viper.SetDefault("BASE_FEE_PER_STOP", 2.0)
	viper.SetDefault("EARNING_PER_KM", 0.6)

	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No .env file found.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
