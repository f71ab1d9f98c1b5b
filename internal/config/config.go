package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken string `yaml:"discord_token" env:"DISCORD_TOKEN"`
	DeveloperID  string `yaml:"developer_id" env:"DEVELOPER_ID"`
	// GuildID registers the slash commands on a single guild instead of
	// globally, which is what you want while developing.
	GuildID         string `yaml:"guild_id" env:"GUILD_ID"`
	DefaultLanguage string `yaml:"default_language" env:"DEFAULT_LANGUAGE"`
	DataDir         string `yaml:"data_dir" env:"DATA_DIR"`
	PresetsDir      string `yaml:"presets_dir" env:"PRESETS_DIR"`
	// DatabaseURL is a sqlite path or a postgres:// url.
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	Log         LogConfig         `yaml:"log" envPrefix:"LOG_"`
	Lock        LockConfig        `yaml:"lock" envPrefix:"LOCK_"`
	Autoreport  AutoreportConfig  `yaml:"autoreport" envPrefix:"AUTOREPORT_"`
	Cooldown    CooldownConfig    `yaml:"cooldown" envPrefix:"COOLDOWN_"`
	MoveContent MoveContentConfig `yaml:"movecontent" envPrefix:"MOVECONTENT_"`
	Permissions PermissionConfig  `yaml:"permissions" envPrefix:"PERMISSIONS_"`
	Punishments PunishmentConfig  `yaml:"punishments" envPrefix:"PUNISHMENTS_"`
	Audit       AuditConfig       `yaml:"audit" envPrefix:"AUDIT_"`
	Health      HealthConfig      `yaml:"health" envPrefix:"HEALTH_"`
	EmbedColors EmbedColors       `yaml:"embed_colors" envPrefix:"EMBED_COLOR_"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	// File, when set, receives a copy of every log line and is rotated.
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
}

type LockConfig struct {
	Retries    int           `yaml:"retries" env:"RETRIES"`
	MinTimeout time.Duration `yaml:"min_timeout" env:"MIN_TIMEOUT"`
	MaxTimeout time.Duration `yaml:"max_timeout" env:"MAX_TIMEOUT"`
}

type AutoreportConfig struct {
	ReasonTimeout    time.Duration `yaml:"reason_timeout" env:"REASON_TIMEOUT"`
	MaxReasonLength  int           `yaml:"max_reason_length" env:"MAX_REASON_LENGTH"`
	ReportsPerWindow int           `yaml:"reports_per_window" env:"REPORTS_PER_WINDOW"`
	Window           time.Duration `yaml:"window" env:"WINDOW"`
	// LinkFilterMode is inclusion (only LinkDomains are trusted) or
	// exclusion (LinkDomains are flagged) for links in reports.
	LinkFilterMode string   `yaml:"link_filter_mode" env:"LINK_FILTER_MODE"`
	LinkDomains    []string `yaml:"link_domains" env:"LINK_DOMAINS" envSeparator:","`
}

type CooldownConfig struct {
	Every time.Duration `yaml:"every" env:"EVERY"`
	Burst int           `yaml:"burst" env:"BURST"`
}

type MoveContentConfig struct {
	MessagesPerLot int           `yaml:"messages_per_lot" env:"MESSAGES_PER_LOT"`
	LotDelay       time.Duration `yaml:"lot_delay" env:"LOT_DELAY"`
}

type PermissionConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

type PunishmentConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

type AuditConfig struct {
	ToChannel       bool          `yaml:"to_channel" env:"TO_CHANNEL"`
	RetentionDays   int           `yaml:"retention_days" env:"RETENTION_DAYS"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

type EmbedColors struct {
	Action  int `yaml:"action" env:"ACTION"`
	Warning int `yaml:"warning" env:"WARNING"`
	Error   int `yaml:"error" env:"ERROR"`
}

func DefaultConfig() Config {
	return Config{
		DefaultLanguage: "en",
		DataDir:         "/data",
		PresetsDir:      "/data/presets",
		DatabaseURL:     "/data/modbot.db",
		Log:             LogConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 28},
		Lock:            LockConfig{Retries: 5, MinTimeout: 100 * time.Millisecond, MaxTimeout: time.Second},
		Autoreport: AutoreportConfig{
			ReasonTimeout:    2 * time.Minute,
			MaxReasonLength:  1000,
			ReportsPerWindow: 5,
			Window:           10 * time.Minute,
			LinkFilterMode:   "exclusion",
		},
		Cooldown:    CooldownConfig{Every: 3 * time.Second, Burst: 2},
		MoveContent: MoveContentConfig{MessagesPerLot: 4, LotDelay: 3 * time.Second},
		Permissions: PermissionConfig{CacheTTL: time.Minute},
		Punishments: PunishmentConfig{SweepInterval: time.Minute},
		Audit:       AuditConfig{ToChannel: true, RetentionDays: 90, CleanupInterval: 24 * time.Hour},
		Health:      HealthConfig{Enabled: false, Addr: ":8080"},
		EmbedColors: EmbedColors{
			Action:  0xF59E0B,
			Warning: 0xEF4444,
			Error:   0xF97316,
		},
	}
}

// Load reads .env, then the YAML file named by CONFIG_PATH, then the
// environment, each layer overriding the previous one.
func Load() (Config, error) {
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	return cfg, nil
}

// LoadFile applies the YAML file at path and the environment on top of the
// defaults. A missing file is not an error. Tools that never log in use it
// directly since they need no token.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.DefaultLanguage = strings.TrimSpace(cfg.DefaultLanguage)
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	switch cfg.Autoreport.LinkFilterMode {
	case "inclusion", "exclusion":
	default:
		return Config{}, fmt.Errorf("autoreport.link_filter_mode must be inclusion or exclusion, got %q", cfg.Autoreport.LinkFilterMode)
	}
	if cfg.Audit.RetentionDays < 0 {
		cfg.Audit.RetentionDays = 0
	}
	return cfg, nil
}

func BuildLogger(cfg LogConfig) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.MessageKey = "message"
	encoderCfg.LevelKey = "level"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.NewAtomicLevelAt(parseLevel(strings.ToLower(cfg.Level)))
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotating), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
