package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	NATSURL        string        `mapstructure:"NATS_URL"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	Tellers              int           `mapstructure:"TELLERS"`
	Advisors             int           `mapstructure:"ADVISORS"`
	LockTimeout          time.Duration `mapstructure:"LOCK_TIMEOUT"`
	PollInterval         time.Duration `mapstructure:"POLL_INTERVAL"`
	MaxServiceTime       time.Duration `mapstructure:"MAX_SERVICE_TIME"`
	WatchdogInterval     time.Duration `mapstructure:"WATCHDOG_INTERVAL"`
	MaxOperationsPerTurn int           `mapstructure:"MAX_OPERATIONS_PER_TURN"`
	OperationDelay       time.Duration `mapstructure:"OPERATION_DELAY"`
	ShutdownTimeout      time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("TELLERS", 3)
	v.SetDefault("ADVISORS", 1)
	v.SetDefault("LOCK_TIMEOUT", "5s")
	v.SetDefault("POLL_INTERVAL", "250ms")
	v.SetDefault("MAX_SERVICE_TIME", "2m")
	v.SetDefault("WATCHDOG_INTERVAL", "1s")
	v.SetDefault("MAX_OPERATIONS_PER_TURN", 3)
	v.SetDefault("OPERATION_DELAY", "0s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
