package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	SQLitePath  string

	Timezone       string
	ClosedWeekdays string
	Holidays       string

	LeadDistance  int
	NotifyTimeout time.Duration

	MailProvider string
	MailFrom     string
	MailLang     string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPass     string
	SMTPStartTLS bool
	WebhookURL   string
	WebhookToken string

	ClinicName string
	ClinicTel  string
	StatusURL  string

	JWTSecret     string
	TokenTTL      time.Duration
	StaffUser     string
	StaffPassHash string

	RateLimitPerMinute int
	RateLimitBurst     int

	OTLPEndpoint string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first, without overriding variables
// already set.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config .env: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),
		SQLitePath:  readString("SQLITE_PATH", "qtime.db"),

		Timezone:       readString("CLINIC_TZ", "Asia/Tokyo"),
		ClosedWeekdays: readString("CLINIC_CLOSED_WEEKDAYS", "Sun"),
		Holidays:       os.Getenv("CLINIC_HOLIDAYS"),

		LeadDistance:  readInt("NOTIFY_LEAD_DISTANCE", 2),
		NotifyTimeout: readDurationSeconds("NOTIFY_TIMEOUT_SECONDS", 20),

		MailProvider: readString("MAIL_PROVIDER", "log"),
		MailFrom:     os.Getenv("MAIL_FROM"),
		MailLang:     readString("MAIL_LANG", "ja"),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     readInt("SMTP_PORT", 587),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPass:     os.Getenv("SMTP_PASS"),
		SMTPStartTLS: readBool("SMTP_STARTTLS", true),
		WebhookURL:   os.Getenv("MAIL_WEBHOOK_URL"),
		WebhookToken: os.Getenv("MAIL_WEBHOOK_TOKEN"),

		ClinicName: readString("CLINIC_NAME", "ひらいずみ動物病院"),
		ClinicTel:  os.Getenv("CLINIC_TEL"),
		StatusURL:  os.Getenv("STATUS_URL"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		TokenTTL:      readDurationSeconds("TOKEN_TTL_SECONDS", 12*60*60),
		StaffUser:     readString("STAFF_USER", "reception"),
		StaffPassHash: os.Getenv("STAFF_PASS_HASH"),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 20),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func readString(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}
