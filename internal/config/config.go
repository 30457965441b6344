package config

import (
	"log"

	"github.com/spf13/viper"
)

// LoggingConfig configures the process wide logrus logger.
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Filename    string
	MaxSize     int
	MaxAge      int
	MaxBackups  int
	Compress    bool
	EnableAudit bool
	AuditFile   string
}

// Init reads .env and binds the environment variables the server understands.
func Init() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("logging.format", "LOG_FORMAT")
	viper.BindEnv("logging.output", "LOG_OUTPUT")
	viper.BindEnv("logging.filename", "LOG_FILE")
	viper.BindEnv("logging.audit_file", "AUDIT_LOG_FILE")

	viper.BindEnv("server.port", "PORT")

	viper.SetDefault("server.port", "8080")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}
}

func LoadLoggingConfig() LoggingConfig {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_age", 30)
	viper.SetDefault("logging.max_backups", 5)
	viper.SetDefault("logging.compress", true)
	viper.SetDefault("logging.enable_audit", true)

	return LoggingConfig{
		Level:       viper.GetString("logging.level"),
		Format:      viper.GetString("logging.format"),
		Output:      viper.GetString("logging.output"),
		Filename:    viper.GetString("logging.filename"),
		MaxSize:     viper.GetInt("logging.max_size"),
		MaxAge:      viper.GetInt("logging.max_age"),
		MaxBackups:  viper.GetInt("logging.max_backups"),
		Compress:    viper.GetBool("logging.compress"),
		EnableAudit: viper.GetBool("logging.enable_audit"),
		AuditFile:   viper.GetString("logging.audit_file"),
	}
}
