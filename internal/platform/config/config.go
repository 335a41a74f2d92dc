package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// Scheduler runs the periodic poll loop inside the server process.
	Scheduler bool `mapstructure:"scheduler"`
}

type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	MaxConnections int           `mapstructure:"max_connections"`
	BusyTimeout    time.Duration `mapstructure:"busy_timeout"`
}

type BrokerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RelayConfig struct {
	// Retention is the number of history entries kept per relay.
	Retention        int           `mapstructure:"retention"`
	BatchLimit       int           `mapstructure:"batch_limit"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	InterRelayDelay  time.Duration `mapstructure:"inter_relay_delay"`
	MinPollInterval  time.Duration `mapstructure:"min_poll_interval"`
	ForwardTimeout   time.Duration `mapstructure:"forward_timeout"`
	PollLease        time.Duration `mapstructure:"poll_lease"`
	ResolveLoopback  bool          `mapstructure:"resolve_loopback"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
	// SigningSecret, when set, signs every forwarded body.
	SigningSecret string `mapstructure:"signing_secret"`
}

type AuthConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.scheduler", true)

	v.SetDefault("database.path", "./data/hookrelay.db")
	v.SetDefault("database.max_connections", 1)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("broker.timeout", 10*time.Second)

	v.SetDefault("relay.retention", 50)
	v.SetDefault("relay.batch_limit", 50)
	v.SetDefault("relay.poll_interval", 30*time.Second)
	v.SetDefault("relay.inter_relay_delay", time.Second)
	v.SetDefault("relay.min_poll_interval", 5*time.Second)
	v.SetDefault("relay.forward_timeout", 30*time.Second)
	v.SetDefault("relay.poll_lease", 10*time.Minute)
	v.SetDefault("relay.resolve_loopback", true)
	v.SetDefault("relay.max_response_bytes", 64*1024)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token_ttl", 30*24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Load reads the config file at path. A missing file is not an error when
// path is empty; defaults and HOOKRELAY_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("hookrelay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
