// Package config centralizes environment-driven configuration: vendor
// credentials, the listening port, and the debug flag.
package config

import (
	"os"
	"strconv"
)

// Config holds process-wide settings read once at startup.
type Config struct {
	Port string

	ASRVendorABaseURL string
	ASRVendorAToken   string
	ASRVendorBBaseURL string
	ASRVendorBToken   string

	TranslateQualityBaseURL string
	TranslateQualityAPIKey  string
	TranslateSpeedHost      string
	TranslateSpeedToken     string
	DefaultTranslatorMode   string

	ToneBaseURL     string
	SplitterBaseURL string

	Debug bool
}

// Load reads configuration from the environment, applying the teacher's
// getEnv-with-default convention.
func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		ASRVendorABaseURL: getEnv("ASR_VENDOR_A_BASE_URL", "wss://vendor-a.example.com"),
		ASRVendorAToken:   getEnv("ASR_VENDOR_A_TOKEN", ""),
		ASRVendorBBaseURL: getEnv("ASR_VENDOR_B_BASE_URL", "wss://vendor-b.example.com"),
		ASRVendorBToken:   getEnv("ASR_VENDOR_B_TOKEN", ""),

		TranslateQualityBaseURL: getEnv("TRANSLATE_QUALITY_BASE_URL", "https://translate-quality.example.com"),
		TranslateQualityAPIKey:  getEnv("TRANSLATE_QUALITY_API_KEY", ""),
		TranslateSpeedHost:      getEnv("TRANSLATE_SPEED_HOST", "translate-speed.example.com"),
		TranslateSpeedToken:     getEnv("TRANSLATE_SPEED_TOKEN", ""),
		DefaultTranslatorMode:   getEnv("DEFAULT_TRANSLATOR_MODE", "quality"),

		ToneBaseURL:     getEnv("TONE_BASE_URL", "https://tone.example.com"),
		SplitterBaseURL: getEnv("SPLITTER_BASE_URL", "https://splitter.example.com"),

		Debug: getEnvBool("DEBUG", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return v
}
