package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string `json:"port"`

	// Каталоги (YAML)
	EntitiesFile   string `json:"entitiesFile"`
	TokensFile     string `json:"tokensFile"`
	ReferencesFile string `json:"referencesFile"`

	// Postgres; пусто — записи в памяти
	DBURL       string `json:"dbUrl"`
	DBSchema    string `json:"dbSchema"`
	AutoMigrate bool   `json:"autoMigrate"`
	DBMaxConns  int    `json:"dbMaxConns"` // batch держит соединение на всю транзакцию

	FilesRoot string `json:"filesRoot"`

	// Redis: сессии, кэш справочников, поток аудита. Пусто — всё в памяти.
	RedisAddr   string `json:"redisAddr"`
	RedisDB     int    `json:"redisDb"`
	AuditStream string `json:"auditStream"`
	AuditBuffer int    `json:"auditBuffer"`

	SessionCookie string `json:"sessionCookie"`

	DefaultPage   int `json:"defaultPage"`
	MaxPage       int `json:"maxPage"`
	MaxBatchItems int `json:"maxBatchItems"`

	LogLevel string `json:"logLevel"` // debug|info|warn|error
	Timezone string `json:"timezone"` // зона для дат без смещения
}

func def() Config {
	return Config{
		Port:           "8080",
		EntitiesFile:   "catalog/entities.yaml",
		TokensFile:     "catalog/tokens.yaml",
		ReferencesFile: "catalog/references.yaml",
		DBSchema:       "hlgate",
		DBMaxConns:     16,
		FilesRoot:      "uploads",
		AuditStream:    "hlgate:audit",
		AuditBuffer:    1024,
		SessionCookie:  "HLSESSID",
		DefaultPage:    50,
		MaxPage:        100,
		MaxBatchItems:  500,
		LogLevel:       "info",
		Timezone:       "Europe/Moscow",
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		if b, ok := parseBool(v); ok {
			return b
		}
	}
	return fallback
}

func getenvInt(k string, fallback int) int {
	if v, ok := os.LookupEnv(k); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

// LoadWithPath читает JSON по указанному пути, потом применяет ENV и флаги процесса.
func LoadWithPath(jsonPath string) (Config, error) {
	return Load(jsonPath, os.Args[1:])
}

// Load: JSON (если файл есть) -> HLGATE_* -> флаги из args.
func Load(jsonPath string, args []string) (Config, error) {
	// -config читаем раньше остальных флагов: от него зависят значения по умолчанию
	pre := flag.NewFlagSet("hlgate", flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	prePath := pre.String("config", jsonPath, "")
	_ = pre.Parse(onlyConfigFlag(args))
	jsonPath = *prePath

	cfg := def()
	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		c2, err := loadJSON(jsonPath)
		if err != nil {
			return cfg, err
		}
		cfg = c2
	}

	// ENV overrides
	cfg.Port = getenv("HLGATE_PORT", cfg.Port)
	cfg.EntitiesFile = getenv("HLGATE_ENTITIES", cfg.EntitiesFile)
	cfg.TokensFile = getenv("HLGATE_TOKENS", cfg.TokensFile)
	cfg.ReferencesFile = getenv("HLGATE_REFERENCES", cfg.ReferencesFile)
	cfg.DBURL = getenv("HLGATE_DB_URL", cfg.DBURL)
	cfg.DBSchema = getenv("HLGATE_DB_SCHEMA", cfg.DBSchema)
	cfg.AutoMigrate = getenvBool("HLGATE_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.DBMaxConns = getenvInt("HLGATE_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.FilesRoot = getenv("HLGATE_FILES_ROOT", cfg.FilesRoot)
	cfg.RedisAddr = getenv("HLGATE_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisDB = getenvInt("HLGATE_REDIS_DB", cfg.RedisDB)
	cfg.AuditStream = getenv("HLGATE_AUDIT_STREAM", cfg.AuditStream)
	cfg.AuditBuffer = getenvInt("HLGATE_AUDIT_BUFFER", cfg.AuditBuffer)
	cfg.SessionCookie = getenv("HLGATE_SESSION_COOKIE", cfg.SessionCookie)
	cfg.DefaultPage = getenvInt("HLGATE_DEFAULT_PAGE", cfg.DefaultPage)
	cfg.MaxPage = getenvInt("HLGATE_MAX_PAGE", cfg.MaxPage)
	cfg.MaxBatchItems = getenvInt("HLGATE_MAX_BATCH", cfg.MaxBatchItems)
	cfg.LogLevel = getenv("HLGATE_LOG_LEVEL", cfg.LogLevel)
	cfg.Timezone = getenv("HLGATE_TZ", cfg.Timezone)

	// Flags overrides
	fs := flag.NewFlagSet("hlgate", flag.ContinueOnError)
	fs.String("config", jsonPath, "Path to config JSON")
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	fs.StringVar(&cfg.EntitiesFile, "entities", cfg.EntitiesFile, "Entity catalog (file or directory)")
	fs.StringVar(&cfg.TokensFile, "tokens", cfg.TokensFile, "API token table")
	fs.StringVar(&cfg.ReferencesFile, "references", cfg.ReferencesFile, "Reference catalog")
	fs.StringVar(&cfg.DBURL, "db", cfg.DBURL, "Postgres URL (empty = in-memory)")
	fs.StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "Postgres schema for entity tables")
	fs.IntVar(&cfg.DBMaxConns, "db-max-conns", cfg.DBMaxConns, "Postgres pool size")
	auto := fs.String("auto-migrate", strconv.FormatBool(cfg.AutoMigrate), "Auto-migrate add-only (true/false)")
	fs.StringVar(&cfg.FilesRoot, "files-root", cfg.FilesRoot, "Local files root")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address (empty = in-memory)")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database")
	fs.StringVar(&cfg.AuditStream, "audit-stream", cfg.AuditStream, "Redis stream for audit entries")
	fs.IntVar(&cfg.AuditBuffer, "audit-buffer", cfg.AuditBuffer, "Audit queue size")
	fs.StringVar(&cfg.SessionCookie, "session-cookie", cfg.SessionCookie, "Session cookie name")
	fs.IntVar(&cfg.DefaultPage, "default-page", cfg.DefaultPage, "Default page size")
	fs.IntVar(&cfg.MaxPage, "max-page", cfg.MaxPage, "Max page size")
	fs.IntVar(&cfg.MaxBatchItems, "max-batch", cfg.MaxBatchItems, "Max items per batch")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug/info/warn/error)")
	fs.StringVar(&cfg.Timezone, "tz", cfg.Timezone, "Timezone for dates without offset")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	b, ok := parseBool(*auto)
	if !ok {
		return cfg, fmt.Errorf("auto-migrate: invalid boolean %q", *auto)
	}
	cfg.AutoMigrate = b
	cfg.Port = strings.TrimSpace(cfg.Port)
	cfg.DBURL = strings.TrimSpace(cfg.DBURL)
	return cfg, nil
}

// onlyConfigFlag оставляет из args только -config.
func onlyConfigFlag(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			continue
		}
		name := strings.TrimLeft(a, "-")
		switch {
		case name == "config" && i+1 < len(args):
			out = append(out, a, args[i+1])
			i++
		case strings.HasPrefix(name, "config="):
			out = append(out, a)
		}
	}
	return out
}

// SlogLevel: неизвестный уровень — info.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
