// Package config provides configuration for the chat server.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings, read from environment variables.
type Config struct {
	// Server settings
	Port string

	// Database settings
	MongoURI     string
	DatabaseName string

	// Auth settings
	JWTSecret   string
	TokenExpiry time.Duration

	// Rate limiting for register/login
	RateLimitRPM int

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables, applying defaults
// where unset. It returns an error when a required value is missing.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		MongoURI:       os.Getenv("MONGODB_URI"),
		DatabaseName:   getEnv("MONGODB_DATABASE", "voxlink"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		TokenExpiry:    time.Duration(getEnvInt("TOKEN_EXPIRY_HOURS", 24)) * time.Hour,
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 10),
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		SendBuffer:     getEnvInt("WS_SEND_BUFFER", 256),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	if cfg.MongoURI == "" {
		return nil, errors.New("MONGODB_URI must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
