package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type APIConfig struct {
	Port  string
	DBDSN string

	// RMQURL empty means no broker: funnel events are dropped.
	RMQURL      string
	EventsQueue string

	// Disabled is the same global switch the worker honors; with it on,
	// the manual schedule trigger is a no-op too.
	Disabled bool

	PingTimeout time.Duration
}

type WorkerConfig struct {
	DBDSN       string
	RMQURL      string
	EventsQueue string

	// Disabled is the global administrative switch: when on, scheduling and
	// sending become no-ops reporting a distinguishable "disabled" result.
	Disabled bool

	PortionSize int
	MaxSend     int

	SendInterval     time.Duration
	ScheduleInterval time.Duration
	SchedulerEnabled bool

	PingTimeout time.Duration

	// RateWindow is the rolling window for per-IP send counting.
	RateWindow     time.Duration
	IPLogRetention time.Duration

	// MemoryLimitBytes halts draining once heap use plus a safety margin
	// crosses it. Zero disables the check.
	MemoryLimitBytes uint64
}

var (
	API    APIConfig
	Worker WorkerConfig
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("required env %s is not set", k)
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("env %s: invalid integer %q", k, v)
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("env %s: invalid bool %q", k, v)
	}
	return b
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("env %s: invalid duration %q", k, v)
	}
	return d
}

func MustLoadAPI() {
	API = APIConfig{
		Port:        getenv("PORT", "8080"),
		DBDSN:       mustEnv("DB_DSN"),
		RMQURL:      getenv("RMQ_URL", ""),
		EventsQueue: getenv("EVENTS_QUEUE", "funnel_events"),
		Disabled:    getenvBool("MAILER_DISABLED", false),
		PingTimeout: getenvDuration("PING_TIMEOUT", 5*time.Second),
	}
}

func MustLoadWorker() {
	Worker = WorkerConfig{
		DBDSN:            mustEnv("DB_DSN"),
		RMQURL:           getenv("RMQ_URL", ""),
		EventsQueue:      getenv("EVENTS_QUEUE", "funnel_events"),
		Disabled:         getenvBool("MAILER_DISABLED", false),
		PortionSize:      getenvInt("PORTION_SIZE", 10),
		MaxSend:          getenvInt("MAX_SEND", 0),
		SendInterval:     getenvDuration("SEND_INTERVAL", 5*time.Second),
		ScheduleInterval: getenvDuration("SCHEDULE_INTERVAL", time.Minute),
		SchedulerEnabled: getenvBool("SCHEDULER_ENABLED", true),
		PingTimeout:      getenvDuration("PING_TIMEOUT", 5*time.Second),
		RateWindow:       getenvDuration("RATE_WINDOW", time.Hour),
		IPLogRetention:   getenvDuration("IP_LOG_RETENTION", time.Hour),
		MemoryLimitBytes: uint64(getenvInt("MEMORY_LIMIT_MB", 512)) << 20,
	}
}
