package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Rooms  RoomsConfig  `mapstructure:"rooms"`
	Game   GameConfig   `mapstructure:"game"`
	Trivia TriviaConfig `mapstructure:"trivia"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	DatabaseURL   string        `mapstructure:"database_url"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RoomsConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type GameConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	QuestionGap  time.Duration `mapstructure:"question_gap"`
}

type TriviaConfig struct {
	ServiceURL     string        `mapstructure:"service_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type AuthConfig struct {
	Secret      string `mapstructure:"secret"`
	AllowGuests bool   `mapstructure:"allow_guests"`
}

type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"` // console or json
	Output string        `mapstructure:"output"` // stdout, file, or both
	File   LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxAge     int    `mapstructure:"max_age"`  // days
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads defaults, an optional yaml file, and TRIVIARENA_* environment
// overrides, in that order of precedence (env wins).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRIVIARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sweep_interval", "5m")

	v.SetDefault("rooms.ttl", "2h")
	v.SetDefault("rooms.cache_ttl", "30s")

	v.SetDefault("game.poll_interval", "1s")
	v.SetDefault("game.question_gap", "3s")

	v.SetDefault("trivia.service_url", "")
	v.SetDefault("trivia.request_timeout", "10s")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.allow_guests", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "triviarena.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 7)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)
}
