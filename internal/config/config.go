// Package config loads broker configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable the broker reads at startup. Only the Mongo
// URI and JWT secret are mandatory; everything else has a working default
// so a dev instance comes up with two variables set.
type Config struct {
	Port     string `env:"PORT" envDefault:"5001"`
	MongoURI string `env:"MONGODB_URI,required"`

	JWTSecret   string        `env:"JWT_SECRET,required"`
	JWTDuration time.Duration `env:"JWT_DURATION" envDefault:"24h"`

	// Moderation. An empty API key disables toxicity scoring entirely
	// (messages pass without a summary).
	OpenAIKey         string        `env:"OPENAI_API_KEY"`
	ToxicityThreshold float64       `env:"TOXICITY_THRESHOLD" envDefault:"0.8"`
	BlockThreshold    int           `env:"BLOCK_THRESHOLD" envDefault:"5"`
	OTPTTL            time.Duration `env:"OTP_TTL" envDefault:"5m"`

	// Rate limiting for signup/login/OTP and message sends.
	AuthRateRPM    int `env:"AUTH_RATE_RPM" envDefault:"10"`
	MessageRateRPM int `env:"MESSAGE_RATE_RPM" envDefault:"60"`

	// SMTP for OTP delivery; optional. When unset, codes are only logged.
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME" envDefault:"TeenConnect"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
