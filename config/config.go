package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Backend names one persistence variant. Exactly one is active per process.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendRedis  Backend = "redis"
	BackendMongo  Backend = "mongo"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	StoreBackend      string        `mapstructure:"STORE_BACKEND"`
	DataFile          string        `mapstructure:"DATA_FILE"`
	ImagesFile        string        `mapstructure:"IMAGES_FILE"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	MongoURI          string        `mapstructure:"MONGO_URI"`
	MongoDatabase     string        `mapstructure:"MONGO_DATABASE"`
	UploadDir         string        `mapstructure:"UPLOAD_DIR"`
	PublicBaseURL     string        `mapstructure:"PUBLIC_BASE_URL"`
	AdminPassword     string        `mapstructure:"ADMIN_PASSWORD"`
	CacheTTL          time.Duration `mapstructure:"CACHE_TTL"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MaxUploadBytes    int64         `mapstructure:"MAX_UPLOAD_BYTES"`
	SeedFile          string        `mapstructure:"SEED_FILE"`
	PDFFontPath       string        `mapstructure:"PDF_FONT_PATH"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	LogPretty         bool          `mapstructure:"LOG_PRETTY"`
	AuthRatePerMinute int           `mapstructure:"AUTH_RATE_PER_MINUTE"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`

	// DotEnvLoaded reports whether a .env file was found. main logs the miss
	// once the logger exists.
	DotEnvLoaded bool `mapstructure:"-"`
}

var keys = []string{
	"PORT", "STORE_BACKEND", "DATA_FILE", "IMAGES_FILE", "REDIS_URL", "MONGO_URI",
	"MONGO_DATABASE", "UPLOAD_DIR", "PUBLIC_BASE_URL", "ADMIN_PASSWORD", "CACHE_TTL",
	"REQUEST_TIMEOUT", "MAX_UPLOAD_BYTES", "SEED_FILE", "PDF_FONT_PATH", "LOG_LEVEL",
	"LOG_PRETTY", "AUTH_RATE_PER_MINUTE", "CORS_ORIGINS",
}

// Load reads .env (if present), an optional YAML file named by CONFIG_FILE,
// then the process environment. Later sources win.
func Load() (Config, error) {
	found, err := loadDotEnv(".env")
	if err != nil {
		return Config{}, err
	}
	cfg, err := load(viper.New())
	cfg.DotEnvLoaded = found
	return cfg, err
}

// loadDotEnv applies path to the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) (bool, error) {
	err := godotenv.Load(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("load %s: %w", path, err)
	}
}

func load(v *viper.Viper) (Config, error) {
	v.AutomaticEnv()
	v.SetDefault("PORT", ":8080")
	v.SetDefault("DATA_FILE", "data/trip-data.json")
	v.SetDefault("IMAGES_FILE", "data/train-images.json")
	v.SetDefault("MONGO_DATABASE", "tripboard")
	v.SetDefault("UPLOAD_DIR", "static/uploads")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("ADMIN_PASSWORD", "1234")
	v.SetDefault("CACHE_TTL", "5s")
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_RATE_PER_MINUTE", 10)
	v.SetDefault("CORS_ORIGINS", "*")
	// Unmarshal only sees keys viper knows about.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.Port = normalizePort(cfg.Port)
	if _, err := cfg.Backend(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Backend resolves the persistence variant. An explicit STORE_BACKEND wins;
// otherwise a hosted-store connection string selects that store, then the
// data file, then memory.
func (c Config) Backend() (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(c.StoreBackend))); b {
	case BackendMemory, BackendFile, BackendRedis, BackendMongo:
		return b, nil
	case "":
	default:
		return "", fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch {
	case c.RedisURL != "":
		return BackendRedis, nil
	case c.MongoURI != "":
		return BackendMongo, nil
	case c.DataFile != "":
		return BackendFile, nil
	default:
		return BackendMemory, nil
	}
}

func normalizePort(p string) string {
	switch {
	case p == "":
		return ":8080"
	case p[0] != ':' && !strings.Contains(p, ":"):
		return ":" + p
	default:
		return p
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
