package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                 string
	DatabaseDSN          string
	JWTSecret            string
	CSRFKey              string
	Env                  string
	APIBase              string
	RoomTokenTTLMinutes  int
	AuthMaxAttempts      int
	JoinMaxAttempts      int
	LockoutSeconds       int
	CountTransportErrors bool
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                 getenv("APP_PORT", "8080"),
		DatabaseDSN:          getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=invoicing port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:            getenv("JWT_SECRET", "dev-secret-change-me"),
		CSRFKey:              getenv("CSRF_KEY", "32-byte-long-auth-key-change-me!"),
		Env:                  getenv("APP_ENV", "dev"),
		APIBase:              getenv("API_BASE", "http://localhost:8080"),
		RoomTokenTTLMinutes:  getint("ROOM_TOKEN_TTL_MINUTES", 60),
		AuthMaxAttempts:      getint("AUTH_MAX_ATTEMPTS", 2),
		JoinMaxAttempts:      getint("JOIN_MAX_ATTEMPTS", 3),
		LockoutSeconds:       getint("LOCKOUT_SECONDS", 30),
		CountTransportErrors: getenv("COUNT_TRANSPORT_ERRORS", "false") == "true",
	}
}

// LockoutDuration 返回受保护动作触发锁定后的倒计时时长。
func (c Config) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutSeconds) * time.Second
}
