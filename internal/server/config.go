package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/elskow/authcore/internal/config"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

const defaultConfigPath = "./config/server"

func LoadConfig() (*config.AppConfig, error) {
	return LoadConfigFrom(defaultConfigPath)
}

// LoadConfigFrom reads config.toml from dir. A missing file is not an error;
// defaults and AUTHCORE_* environment variables still apply.
func LoadConfigFrom(dir string) (*config.AppConfig, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = EnvDevelopment
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("authcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config config.AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Load environment-specific configurations
	if envSettings := v.GetStringMap(fmt.Sprintf("grpc.%s", env)); len(envSettings) > 0 {
		if err := v.UnmarshalKey(fmt.Sprintf("grpc.%s", env), &config.GRPC); err != nil {
			return nil, fmt.Errorf("error unmarshaling env config: %w", err)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "50051")

	v.SetDefault("grpc.enable_reflection", false)
	v.SetDefault("grpc.max_receive_message_size", 4<<20)
	v.SetDefault("grpc.max_send_message_size", 4<<20)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.cookie_name", "session_token")
	v.SetDefault("http.cookie_secure", true)
	v.SetDefault("http.same_site", "lax")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:data/authcore.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.token_bytes", 32)
	v.SetDefault("auth.session_duration", 24*time.Hour)
	v.SetDefault("auth.auto_login_on_register", true)
	v.SetDefault("auth.max_failed_logins", 5)
	v.SetDefault("auth.lockout_duration", 15*time.Minute)
	v.SetDefault("auth.max_sessions_per_user", 0)
	v.SetDefault("auth.min_password_length", 6)

	v.SetDefault("session.cleanup_interval", time.Hour)
	v.SetDefault("session.touch_interval", time.Minute)
}

func validateConfig(cfg *config.AppConfig) error {
	switch cfg.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Auth.TokenBytes < 16 {
		return fmt.Errorf("auth.token_bytes must be at least 16, got %d", cfg.Auth.TokenBytes)
	}
	if cfg.Auth.SessionDuration <= 0 {
		return errors.New("auth.session_duration must be positive")
	}
	return nil
}
