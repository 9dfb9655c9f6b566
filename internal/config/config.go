package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/rep4rep-bot/internal/model"
)

// Config is the full application configuration
type Config struct {
	App struct {
		Name     string `mapstructure:"name"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"app"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Rep4Rep struct {
		BaseURL  string `mapstructure:"base_url"`
		APIToken string `mapstructure:"api_token"`
	} `mapstructure:"rep4rep"`

	Steam struct {
		DryRun       bool          `mapstructure:"dry_run"`
		GuardTimeout time.Duration `mapstructure:"guard_timeout"`
	} `mapstructure:"steam"`

	NATS struct {
		Enabled        bool          `mapstructure:"enabled"`
		URL            string        `mapstructure:"url"`
		MaxReconnects  int           `mapstructure:"max_reconnects"`
		ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"nats"`

	Bot struct {
		WorkMode              string        `mapstructure:"work_mode"`
		TaskDelay             time.Duration `mapstructure:"task_delay"`
		CommentDelay          time.Duration `mapstructure:"comment_delay"`
		MaxConcurrentAccounts int           `mapstructure:"max_concurrent_accounts"`
		RestartDelay          time.Duration `mapstructure:"restart_delay"`
		RateLimitPause        time.Duration `mapstructure:"rate_limit_pause"`
	} `mapstructure:"bot"`

	Monitor struct {
		Enabled  bool          `mapstructure:"enabled"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"monitor"`

	Maintenance struct {
		LogRetention time.Duration `mapstructure:"log_retention"`
	} `mapstructure:"maintenance"`
}

// Load reads config.yaml from the given directory. A missing file is not
// an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rep4rep-bot")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.path", "rep4rep-bot.db")

	v.SetDefault("rep4rep.base_url", "https://rep4rep.com/pub-api")

	v.SetDefault("steam.dry_run", true)
	v.SetDefault("steam.guard_timeout", 2*time.Minute)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("bot.work_mode", string(model.WorkModeParallel))
	v.SetDefault("bot.task_delay", 30*time.Second)
	v.SetDefault("bot.comment_delay", 10*time.Second)
	v.SetDefault("bot.max_concurrent_accounts", 3)
	v.SetDefault("bot.restart_delay", 5*time.Minute)
	v.SetDefault("bot.rate_limit_pause", 5*time.Minute)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 30*time.Second)

	v.SetDefault("maintenance.log_retention", 30*24*time.Hour)
}

// RunSettings converts the bot section into run settings
func (c *Config) RunSettings() model.RunSettings {
	return model.RunSettings{
		TaskDelay:             c.Bot.TaskDelay,
		CommentDelay:          c.Bot.CommentDelay,
		WorkMode:              model.WorkMode(c.Bot.WorkMode),
		MaxConcurrentAccounts: c.Bot.MaxConcurrentAccounts,
		APIToken:              c.Rep4Rep.APIToken,
	}
}
