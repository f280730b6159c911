package config

import "time"

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

type GRPCConfig struct {
	EnableReflection      bool `mapstructure:"enable_reflection"`
	MaxReceiveMessageSize int  `mapstructure:"max_receive_message_size"`
	MaxSendMessageSize    int  `mapstructure:"max_send_message_size"`
}

type HTTPConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Address      string `mapstructure:"address"`
	CookieName   string `mapstructure:"cookie_name"`
	CookieSecure bool   `mapstructure:"cookie_secure"`
	SameSite     string `mapstructure:"same_site"` // "lax", "strict" or "none"
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // "sqlite", "postgres" or "memory"
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogLevel     string `mapstructure:"log_level"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type AuthConfig struct {
	BcryptCost          int           `mapstructure:"bcrypt_cost"`
	TokenBytes          int           `mapstructure:"token_bytes"`
	SessionDuration     time.Duration `mapstructure:"session_duration"`
	AutoLoginOnRegister bool          `mapstructure:"auto_login_on_register"`
	MaxFailedLogins     int           `mapstructure:"max_failed_logins"`
	LockoutDuration     time.Duration `mapstructure:"lockout_duration"`
	MaxSessionsPerUser  int           `mapstructure:"max_sessions_per_user"`
	MinPasswordLength   int           `mapstructure:"min_password_length"`
}

type SessionConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	TouchInterval   time.Duration `mapstructure:"touch_interval"`
}

type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Session  SessionConfig  `mapstructure:"session"`
}
