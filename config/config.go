// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"os"
)

// DefaultSiteURL is the page scraped for appointment availability.
const DefaultSiteURL = "https://visaslots.info/"

// Config holds runtime configuration loaded from the environment.
type Config struct {
	BotToken     string
	SiteURL      string
	Bucket       string
	LocalStorage string
	DBConnString string
	LogLevel     string
}

// FromEnv loads configuration from environment variables. BOT_TOKEN is
// required. DATABASE_URL selects the Postgres backend, STORAGE_BUCKET the
// GCS backend; with neither set, records go to LOCAL_STORAGE (default
// "./data").
func FromEnv() (*Config, error) {
	c := &Config{
		BotToken:     os.Getenv("BOT_TOKEN"),
		SiteURL:      os.Getenv("VISA_SLOTS_URL"),
		Bucket:       os.Getenv("STORAGE_BUCKET"),
		LocalStorage: os.Getenv("LOCAL_STORAGE"),
		DBConnString: os.Getenv("DATABASE_URL"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
	}
	if c.BotToken == "" {
		return nil, errors.New("BOT_TOKEN is not set")
	}
	if c.SiteURL == "" {
		c.SiteURL = DefaultSiteURL
	}
	if c.Bucket == "" && c.DBConnString == "" && c.LocalStorage == "" {
		c.LocalStorage = "./data"
	}
	return c, nil
}
