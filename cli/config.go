package cli

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config collects every tunable of the terminal. Values come from defaults,
// then an optional ibterm.yaml, then IB_ environment variables.
type Config struct {
	Host     string
	Port     int
	ClientID int

	ConnectTimeout  time.Duration
	QuoteTimeout    time.Duration
	HistoryTimeout  time.Duration
	SnapshotTimeout time.Duration
	OrderIDTimeout  time.Duration
	OrderTimeout    time.Duration

	HistoryTTL  time.Duration
	BufferRatio float64

	Aliases            map[string]string
	InformationalCodes []int

	MetricsAddr string

	AdvisorModel   string
	AdvisorFeedURL string
	Watchlist      []string

	LogLevel string
}

func loadConfig() (Config, error) {
	// Secrets such as GEMINI_API_KEY live in .env during development.
	_ = godotenv.Load()

	var v = viper.New()
	v.SetEnvPrefix("IB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 7497)
	v.SetDefault("client_id", 1)
	v.SetDefault("connect_timeout", 10*time.Second)
	v.SetDefault("quote_timeout", 8*time.Second)
	v.SetDefault("history_timeout", 15*time.Second)
	v.SetDefault("snapshot_timeout", 15*time.Second)
	v.SetDefault("order_id_timeout", 5*time.Second)
	v.SetDefault("order_timeout", 30*time.Second)
	v.SetDefault("history_ttl", 5*time.Minute)
	v.SetDefault("buffer_ratio", 1.05)
	v.SetDefault("aliases", map[string]string{"GOOGL": "GOOG"})
	v.SetDefault("informational_codes", []int{})
	v.SetDefault("metrics_addr", "")
	v.SetDefault("advisor_model", "gemini-2.0-flash")
	v.SetDefault("advisor_feed_url", "")
	v.SetDefault("watchlist", []string{"AAPL", "GOOGL", "MSFT", "TSLA", "NVDA", "AMZN", "META"})
	v.SetDefault("log_level", "info")

	v.SetConfigName("ibterm")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/ibterm")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	return Config{
		Host:               v.GetString("host"),
		Port:               v.GetInt("port"),
		ClientID:           v.GetInt("client_id"),
		ConnectTimeout:     v.GetDuration("connect_timeout"),
		QuoteTimeout:       v.GetDuration("quote_timeout"),
		HistoryTimeout:     v.GetDuration("history_timeout"),
		SnapshotTimeout:    v.GetDuration("snapshot_timeout"),
		OrderIDTimeout:     v.GetDuration("order_id_timeout"),
		OrderTimeout:       v.GetDuration("order_timeout"),
		HistoryTTL:         v.GetDuration("history_ttl"),
		BufferRatio:        v.GetFloat64("buffer_ratio"),
		Aliases:            v.GetStringMapString("aliases"),
		InformationalCodes: v.GetIntSlice("informational_codes"),
		MetricsAddr:        v.GetString("metrics_addr"),
		AdvisorModel:       v.GetString("advisor_model"),
		AdvisorFeedURL:     v.GetString("advisor_feed_url"),
		Watchlist:          v.GetStringSlice("watchlist"),
		LogLevel:           v.GetString("log_level"),
	}, nil
}
