package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env                       string
		Debug                     bool
		TestMode                  bool
		AppName                   string
		Build                     string
		SecretKey                 string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		RollbarToken              string

		Server   ServerConfig
		Database DatabaseConfig
		Log      LogConfig
		Tracing  TracingConfig
		Sync     SyncConfig
	}

	ServerConfig struct {
		Host            string
		Address         string
		DebugHost       string
		ShutdownTimeout time.Duration
	}

	DatabaseConfig struct {
		Engine            string
		Host              string
		Port              string
		Name              string
		User              string
		Password          string
		AdminUser         string
		AdminPassword     string
		DisableTLS        bool
		MaxOpenConns      int
		KeepAliveInterval time.Duration
	}

	LogConfig struct {
		File      string // empty: stdout only
		MaxSizeMB int
	}

	TracingConfig struct {
		Enabled     bool
		Endpoint    string // OTLP/HTTP collector; empty: spans are printed to stdout
		SampleRatio float64
	}

	SyncConfig struct {
		// Concurrency bounds how many learners are read from the source at once during a sync.
		Concurrency int
	}
)

// Address returns the "host:port" of the database server.
func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, dc.Port)
}

// NewConfig reads the configuration from the environment.
// Environment variables are prefixed with ENV (DEV by default), e.g. DEV_DATABASE_HOST.
// A `config/.env.<env>` file at the project root is loaded first if it exists.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Sunschool")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "x9#k2!qz7w$e@p0v4j&m8t^r1b(c5n)h3g*u6l+y=o-d")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "sunschool")
	v.SetDefault("database.user", "sunschool")
	v.SetDefault("database.password", "sunschool")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.keepAliveInterval", time.Minute)

	v.SetDefault("log.file", "")
	v.SetDefault("log.maxSizeMB", 100)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sampleRatio", 1.0)
	v.SetDefault("sync.concurrency", 4)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	if root, err := ProjectRoot(); err == nil {
		dotEnvPath := filepath.Join(root, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	v.AutomaticEnv()

	return &Config{
		Env:                       env,
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		AppName:                   v.GetString("appName"),
		Build:                     v.GetString("build"),
		SecretKey:                 v.GetString("secretKey"),
		JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
		JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
		RollbarToken:              v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Address:         v.GetString("server.address"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Engine:            v.GetString("database.engine"),
			Host:              v.GetString("database.host"),
			Port:              v.GetString("database.port"),
			Name:              v.GetString("database.name"),
			User:              v.GetString("database.user"),
			Password:          v.GetString("database.password"),
			AdminUser:         v.GetString("database.adminUser"),
			AdminPassword:     v.GetString("database.adminPassword"),
			DisableTLS:        v.GetBool("database.disableTLS"),
			MaxOpenConns:      v.GetInt("database.maxOpenConns"),
			KeepAliveInterval: v.GetDuration("database.keepAliveInterval"),
		},
		Log: LogConfig{
			File:      v.GetString("log.file"),
			MaxSizeMB: v.GetInt("log.maxSizeMB"),
		},
		Tracing: TracingConfig{
			Enabled:     v.GetBool("tracing.enabled"),
			Endpoint:    v.GetString("tracing.endpoint"),
			SampleRatio: v.GetFloat64("tracing.sampleRatio"),
		},
		Sync: SyncConfig{
			Concurrency: v.GetInt("sync.concurrency"),
		},
	}
}
