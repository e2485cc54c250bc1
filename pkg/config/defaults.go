// Package config provides centralized default values for the Curator widget runtime
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDurationList(key string, defaultValue []time.Duration) []time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}

	var out []time.Duration
	for _, part := range strings.Split(valStr, ",") {
		val, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			log.Printf("Config override ignored: %s=%s (parse error: %v)", key, valStr, err)
			return defaultValue
		}
		out = append(out, val)
	}
	log.Printf("Config override: %s=%s", key, valStr)
	return out
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	AllowedOrigins     []string

	// Recommendation Backend
	BackendBaseURL       string
	BackendAPIKey        string
	StartSessionTimeout  time.Duration
	StatusRequestTimeout time.Duration
	FetchRequestTimeout  time.Duration
	TelemetryTimeout     time.Duration

	// Resume / Poll Schedule
	ResumeDelays       []time.Duration
	PollFastInterval   time.Duration
	PollFastWindow     time.Duration
	PollMediumInterval time.Duration
	PollMediumWindow   time.Duration
	PollJitterMin      time.Duration
	PollJitterMax      time.Duration
	PollMaxElapsed     time.Duration
	WorkflowRetention  time.Duration

	// Experiments
	ExperimentCacheTTL      time.Duration
	ExperimentOverrideParam string

	// Widget Behavior
	ResultsPath         string
	DefaultResultsCount int

	// Shop Config Cache
	ShopConfigCacheTTL time.Duration

	// Persistent Store
	DatabaseURL         string
	DatabaseAuthToken   string
	DBMaxOpenConns      int
	DBMaxIdleConns      int
	DBConnMaxLifetime   time.Duration
	DBConnMaxIdleTime   time.Duration

	// Retention
	ExposureRetentionDays int
	PruneSchedule         string
	SessionCacheTTL       time.Duration

	// Logging
	LogDirectory string
	LogToFile    bool
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 0) // 0 = no write timeout, SSE streams stay open
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	AllowedOrigins = strings.Split(getEnvString("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:4321,http://127.0.0.1:3000,http://127.0.0.1:4321"), ",")

	// Recommendation Backend
	BackendBaseURL = getEnvString("BACKEND_BASE_URL", "http://localhost:9400")
	BackendAPIKey = getEnvString("BACKEND_API_KEY", "")
	StartSessionTimeout = getEnvDuration("START_SESSION_TIMEOUT", 25*time.Second)
	StatusRequestTimeout = getEnvDuration("STATUS_REQUEST_TIMEOUT", 10*time.Second)
	FetchRequestTimeout = getEnvDuration("FETCH_REQUEST_TIMEOUT", 10*time.Second)
	TelemetryTimeout = getEnvDuration("TELEMETRY_TIMEOUT", 5*time.Second)

	// Resume / Poll Schedule
	ResumeDelays = getEnvDurationList("RESUME_DELAYS", []time.Duration{0, 2 * time.Second, 5 * time.Second})
	PollFastInterval = getEnvDuration("POLL_FAST_INTERVAL", 1*time.Second)
	PollFastWindow = getEnvDuration("POLL_FAST_WINDOW", 5*time.Second)
	PollMediumInterval = getEnvDuration("POLL_MEDIUM_INTERVAL", 2*time.Second)
	PollMediumWindow = getEnvDuration("POLL_MEDIUM_WINDOW", 15*time.Second)
	PollJitterMin = getEnvDuration("POLL_JITTER_MIN", 3*time.Second)
	PollJitterMax = getEnvDuration("POLL_JITTER_MAX", 5*time.Second)
	PollMaxElapsed = getEnvDuration("POLL_MAX_ELAPSED", 180*time.Second)
	WorkflowRetention = getEnvDuration("WORKFLOW_RETENTION", 5*time.Minute)

	// Experiments
	ExperimentCacheTTL = getEnvDuration("EXPERIMENT_CACHE_TTL", 10*time.Minute)
	ExperimentOverrideParam = getEnvString("EXPERIMENT_OVERRIDE_PARAM", "ab")

	// Widget Behavior
	ResultsPath = getEnvString("RESULTS_PATH", "/recommendations")
	DefaultResultsCount = getEnvInt("DEFAULT_RESULTS_COUNT", 6)

	// Shop Config Cache
	ShopConfigCacheTTL = getEnvDuration("SHOP_CONFIG_CACHE_TTL", 5*time.Minute)

	// Persistent Store
	DatabaseURL = getEnvString("DATABASE_URL", "curator.db")
	DatabaseAuthToken = getEnvString("DATABASE_AUTH_TOKEN", "")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetime = time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)) * time.Minute
	DBConnMaxIdleTime = time.Duration(getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 3)) * time.Minute

	// Retention
	ExposureRetentionDays = getEnvInt("EXPOSURE_RETENTION_DAYS", 30)
	PruneSchedule = getEnvString("PRUNE_SCHEDULE", "17 3 * * *")
	SessionCacheTTL = time.Duration(getEnvInt("SESSION_CACHE_TTL_HOURS", 24)) * time.Hour

	// Logging
	LogDirectory = getEnvString("LOG_DIRECTORY", "logs")
	LogToFile = getEnvString("LOG_TO_FILE", "false") == "true"
}
