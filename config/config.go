package config

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root structure containing all application configuration.
type Config struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Ffwd          FfwdConfig     `mapstructure:"ffwd"`
	Log           LogConfig      `mapstructure:"log"`
	DatabaseTasks []TaskConfig   `mapstructure:"db-tasks"`
	ClusterTasks  []TaskConfig   `mapstructure:"cluster-tasks"`
}

// PostgresConfig defines cluster connection parameters.
type PostgresConfig struct {
	Host                  string   `mapstructure:"host"`
	Port                  int      `mapstructure:"port"`
	User                  string   `mapstructure:"user"`
	Password              string   `mapstructure:"password"`
	Databases             []string `mapstructure:"databases"`
	DataDir               string   `mapstructure:"data-dir"`
	SslMode               string   `mapstructure:"ssl-mode"`
	QueryTimeout          Duration `mapstructure:"query-timeout"`
	ConnectTimeout        Duration `mapstructure:"connect-timeout"`
	MaxOpenConnections    int      `mapstructure:"max-open-connections"`
	MaxIdleConnections    int      `mapstructure:"max-idle-connections"`
	ConnectionMaxLifetime Duration `mapstructure:"connection-max-lifetime"`
	ConnectionMaxIdleTime Duration `mapstructure:"connection-max-idle-time"`
}

// FfwdConfig defines the UDP push endpoint.
type FfwdConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig defines logging parameters.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
	File   string `mapstructure:"file"`
}

// TaskConfig binds a task name to its collection interval.
type TaskConfig struct {
	Name     string   `mapstructure:"name" yaml:"name"`
	Interval Duration `mapstructure:"interval" yaml:"interval"`
}

// Duration wrapper around time.Duration for proper YAML unmarshaling.
type Duration struct {
	time.Duration
}

// UnmarshalText implements interface for parsing Duration
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// UnmarshalYAML parses Duration from the embedded defaults document.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Load reads, deserializes and validates the configuration file.
// Default task lists ship embedded and user entries override them per
// task name.
func Load(configPath string) (*Config, error) {
	// Load .env file for secrets. Stdout stays free for metric output,
	// so the notice goes to stderr.
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "INFO: .env file not found, using system environment variables for secrets")
	}

	rawContent, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// Expand environment variables of format ${VAR}
	expandedContent := os.ExpandEnv(string(rawContent))

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(expandedContent)); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	setDefaults(v)
	substituteEnvVars(v)

	// viper's default decoder knows nothing about Duration's
	// UnmarshalText, so the hook chain must be passed explicitly.
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	var config Config
	if err := v.Unmarshal(&config, decodeHook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.mergeDefaultTasks(); err != nil {
		return nil, fmt.Errorf("failed to merge default task lists: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for Viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.ssl-mode", "disable")
	v.SetDefault("postgres.query-timeout", "10s")
	v.SetDefault("postgres.connect-timeout", "10s")

	v.SetDefault("ffwd.host", "127.0.0.1")
	v.SetDefault("ffwd.port", 19000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// substituteEnvVars overrides sensitive fields from environment variables.
func substituteEnvVars(v *viper.Viper) {
	if dbUser := os.Getenv("METRICS_DB_USER"); dbUser != "" {
		v.Set("postgres.user", dbUser)
	}
	if dbPassword := os.Getenv("METRICS_DB_PASSWORD"); dbPassword != "" {
		v.Set("postgres.password", dbPassword)
	}
	if dbHost := os.Getenv("METRICS_DB_HOST"); dbHost != "" {
		v.Set("postgres.host", dbHost)
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.Postgres.Databases) == 0 {
		return fmt.Errorf("no target databases defined in configuration")
	}
	if c.Postgres.User == "" {
		return fmt.Errorf("no postgres user defined in configuration")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.Log.Level) {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	validFormats := []string{"json", "text"}
	if !slices.Contains(validFormats, c.Log.Format) {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	for _, task := range append(append([]TaskConfig{}, c.DatabaseTasks...), c.ClusterTasks...) {
		if task.Name == "" {
			return fmt.Errorf("task entry with empty name")
		}
		if task.Interval.Duration <= 0 {
			return fmt.Errorf("task '%s' has non-positive interval", task.Name)
		}
	}
	return nil
}
