package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ServerPort string
	ServerHost string

	PoWReportDifficulty int
	PoWVoteDifficulty   int
	PoWNonceBytes       int

	ChallengeExpiryMinutes       int
	ChallengeCleanupIntervalMins int
	AttemptRetentionHours        int

	ReportLimit         int
	ReportWindowMins    int
	VoteLimit           int
	VoteWindowMins      int
	ChallengeLimit      int
	ChallengeWindowMins int

	CounterStoreTimeoutMS     int
	FallbackSweepIntervalMins int

	NotifyBufferSize int

	APICORSOrigins []string

	LogLevel  string
	DebugMode bool
}

func Load() (*Config, error) {
	godotenv.Load("config.env")

	cfg := &Config{
		DBHost:     getEnvString("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBName:     getEnvString("DB_NAME", "rightsgate_db"),
		DBUser:     getEnvString("DB_USER", "postgres"),
		DBPassword: getEnvString("DB_PASSWORD", ""),
		DBSSLMode:  getEnvString("DB_SSL_MODE", "disable"),

		RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ServerPort: getEnvString("SERVER_PORT", "8080"),
		ServerHost: getEnvString("SERVER_HOST", "localhost"),

		PoWReportDifficulty: getEnvInt("POW_REPORT_DIFFICULTY", 5),
		PoWVoteDifficulty:   getEnvInt("POW_VOTE_DIFFICULTY", 3),
		PoWNonceBytes:       getEnvInt("POW_NONCE_BYTES", 32),

		ChallengeExpiryMinutes:       getEnvInt("CHALLENGE_EXPIRY_MINUTES", 5),
		ChallengeCleanupIntervalMins: getEnvInt("CHALLENGE_CLEANUP_INTERVAL_MINUTES", 10),
		AttemptRetentionHours:        getEnvInt("ATTEMPT_RETENTION_HOURS", 24),

		ReportLimit:         getEnvInt("RATE_LIMIT_REPORTS", 5),
		ReportWindowMins:    getEnvInt("RATE_LIMIT_REPORTS_WINDOW_MINUTES", 60),
		VoteLimit:           getEnvInt("RATE_LIMIT_VOTES", 100),
		VoteWindowMins:      getEnvInt("RATE_LIMIT_VOTES_WINDOW_MINUTES", 60),
		ChallengeLimit:      getEnvInt("RATE_LIMIT_CHALLENGES", 30),
		ChallengeWindowMins: getEnvInt("RATE_LIMIT_CHALLENGES_WINDOW_MINUTES", 60),

		CounterStoreTimeoutMS:     getEnvInt("COUNTER_STORE_TIMEOUT_MS", 500),
		FallbackSweepIntervalMins: getEnvInt("FALLBACK_SWEEP_INTERVAL_MINUTES", 5),

		NotifyBufferSize: getEnvInt("NOTIFY_BUFFER_SIZE", 256),

		APICORSOrigins: getEnvStringSlice("API_CORS_ORIGINS", []string{"*"}),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		DebugMode: getEnvBool("DEBUG_MODE", false),
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
