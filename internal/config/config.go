// Package config loads entityd's runtime configuration from a YAML file,
// ENTITYD_-prefixed environment variables, and cobra command-line flags,
// using spf13/viper with cobra flags bound to viper keys and defaults
// set up front.
package config

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/pkg/log"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	DB  DBConfig
	Log LogConfig
}

type DBConfig struct {
	LimitsEntityName     int
	LimitsStringSize     int
	CommitIntervalSeconds int
	DataDir              string
}

type LogConfig struct {
	Level string
	JSON  bool
}

// Limits converts the db limit settings into the entity package's Limits
// value, the only shape entity.NewHeader understands.
func (c Config) Limits() entity.Limits {
	return entity.Limits{
		MaxNameChars:   c.DB.LimitsEntityName,
		MaxStringChars: c.DB.LimitsStringSize,
	}
}

// LogWriterConfig converts to the pkg/log.Config shape Init expects.
func (c Config) LogWriterConfig() log.Config {
	level := log.InfoLevel
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = log.DebugLevel
	case "warn":
		level = log.WarnLevel
	case "error":
		level = log.ErrorLevel
	}
	return log.Config{Level: level, JSONOutput: c.Log.JSON}
}

// defaults mirrors the runtime configuration surface.
var defaults = map[string]any{
	"db.limits_entity_name":      80,
	"db.limits_string_size":      4000,
	"db.commit_interval_seconds": 5,
	"db.data_dir":                "./data",
	"log.level":                  "info",
	"log.json":                   false,
}

// BindFlags registers the persistent flags cmd/entityd exposes and binds
// each one to its viper key, so a flag, an env var, or a config file
// entry can all set the same setting with flag > env > file precedence.
func BindFlags(v *viper.Viper, cmd *cobra.Command) {
	for key, def := range defaults {
		v.SetDefault(key, def)
	}

	flags := cmd.PersistentFlags()
	flags.String("data-dir", defaults["db.data_dir"].(string), "directory holding the bbolt database file")
	flags.Int("commit-interval", defaults["db.commit_interval_seconds"].(int), "seconds between Update Manager commit ticks")
	flags.String("log-level", defaults["log.level"].(string), "log level (debug, info, warn, error)")
	flags.Bool("log-json", defaults["log.json"].(bool), "emit structured JSON logs instead of console output")

	_ = v.BindPFlag("db.data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("db.commit_interval_seconds", flags.Lookup("commit-interval"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.json", flags.Lookup("log-json"))
}

// Load resolves v (already populated by BindFlags, an optional config
// file, and environment) into a Config. Looks for entityd.yaml in the
// working directory and /etc/entityd; a missing file is not an error,
// since flags/env/defaults alone are a valid configuration.
func Load(v *viper.Viper) (Config, error) {
	v.SetConfigName("entityd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/entityd")

	v.SetEnvPrefix("ENTITYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, err
		}
	}

	return Config{
		DB: DBConfig{
			LimitsEntityName:      v.GetInt("db.limits_entity_name"),
			LimitsStringSize:      v.GetInt("db.limits_string_size"),
			CommitIntervalSeconds: v.GetInt("db.commit_interval_seconds"),
			DataDir:               v.GetString("db.data_dir"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
	}, nil
}
