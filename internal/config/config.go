package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	RefreshTokenSecret    string
	MessageEncryptionKey  string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	ClientOrigin          string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	// .env 文件存在则加载，不存在时静默回退到进程环境变量。
	_ = godotenv.Load()
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatapp port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", "dev-secret-change-me"),
		RefreshTokenSecret:    getenv("REFRESH_TOKEN_SECRET", "dev-refresh-secret-change-me"),
		MessageEncryptionKey:  getenv("MESSAGE_ENCRYPTION_KEY", "default_secret_key_change_me_123"),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		ClientOrigin:          getenv("CLIENT_ORIGIN", "http://localhost:5173"),
	}
}

// Validate 检查配置完整性，dev 以外的环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: database dsn is required")
	}
	if cfg.Env != "dev" {
		if cfg.JWTSecret == "dev-secret-change-me" {
			return errors.New("config: default JWT_SECRET is not allowed outside dev")
		}
		if cfg.RefreshTokenSecret == "dev-refresh-secret-change-me" {
			return errors.New("config: default REFRESH_TOKEN_SECRET is not allowed outside dev")
		}
		if cfg.MessageEncryptionKey == "default_secret_key_change_me_123" {
			return errors.New("config: default MESSAGE_ENCRYPTION_KEY is not allowed outside dev")
		}
	}
	return nil
}
