package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

type Config struct {
	HTTPAddr  string `validate:"required"`
	LogLevel  string `validate:"oneof=debug info warn warning error"`
	LogFormat string `validate:"oneof=text json"`

	PlacesAPIKey         string
	PlacesBaseURL        string        `validate:"required,url"`
	PlacesLanguage       string
	PlacesTimeout        time.Duration `validate:"gt=0"`
	PlacesMaxRetries     int           `validate:"gte=0,lte=10"`
	PlacesRetryBaseDelay time.Duration `validate:"gt=0"`
	PlacesRateLimitRPS   float64       `validate:"gte=0"`

	CacheTTL        time.Duration `validate:"gt=0"`
	CacheMaxEntries int           `validate:"gt=0"`
	CacheBackend    string        `validate:"oneof=badger redis memory"`
	DataDir         string
	RedisURL        string `validate:"required_if=CacheBackend redis"`

	FavoritesBackend string `validate:"oneof=badger mongo memory"`
	MongoURI         string `validate:"required_if=FavoritesBackend mongo"`
	MongoDB          string `validate:"required_if=FavoritesBackend mongo"`

	PhotoMemoryMaxItems int   `validate:"gt=0"`
	PhotoMemoryMaxBytes int64 `validate:"gt=0"`
	PhotoDiskMaxBytes   int64 `validate:"gte=0"`

	LocationPermission  string   `validate:"oneof=granted denied"`
	DefaultLatitude     *float64 `validate:"omitempty,gte=-90,lte=90"`
	DefaultLongitude    *float64 `validate:"omitempty,gte=-180,lte=180"`
	DefaultRadiusMeters int      `validate:"gt=0,lte=50000"`

	DebounceInterval    time.Duration `validate:"gt=0"`
	ThrottleInterval    time.Duration `validate:"gt=0"`
	MaintenanceSchedule string        `validate:"required"`
}

// fileConfig is the TOML shape. Pointers tell "absent" from zero values.
type fileConfig struct {
	Server struct {
		Addr      *string `toml:"addr"`
		LogLevel  *string `toml:"log_level"`
		LogFormat *string `toml:"log_format"`
	} `toml:"server"`
	Places struct {
		APIKey         *string  `toml:"api_key"`
		BaseURL        *string  `toml:"base_url"`
		Language       *string  `toml:"language"`
		TimeoutSeconds *int     `toml:"timeout_seconds"`
		MaxRetries     *int     `toml:"max_retries"`
		RetryBaseDelay *string  `toml:"retry_base_delay"`
		RateLimitRPS   *float64 `toml:"rate_limit_rps"`
	} `toml:"places"`
	Cache struct {
		TTL        *string `toml:"ttl"`
		MaxEntries *int    `toml:"max_entries"`
		Backend    *string `toml:"backend"`
	} `toml:"cache"`
	Storage struct {
		DataDir          *string `toml:"data_dir"`
		RedisURL         *string `toml:"redis_url"`
		FavoritesBackend *string `toml:"favorites_backend"`
		MongoURI         *string `toml:"mongo_uri"`
		MongoDB          *string `toml:"mongo_db"`
	} `toml:"storage"`
	Photos struct {
		MemoryMaxItems *int   `toml:"memory_max_items"`
		MemoryMaxBytes *int64 `toml:"memory_max_bytes"`
		DiskMaxBytes   *int64 `toml:"disk_max_bytes"`
	} `toml:"photos"`
	Location struct {
		Permission   *string  `toml:"permission"`
		Latitude     *float64 `toml:"latitude"`
		Longitude    *float64 `toml:"longitude"`
		RadiusMeters *int     `toml:"radius_meters"`
		Debounce     *string  `toml:"debounce_interval"`
		Throttle     *string  `toml:"throttle_interval"`
		Maintenance  *string  `toml:"maintenance_schedule"`
	} `toml:"location"`
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr:             ":8095",
		LogLevel:             "info",
		LogFormat:            "text",
		PlacesBaseURL:        "https://maps.googleapis.com/maps/api/place",
		PlacesTimeout:        30 * time.Second,
		PlacesMaxRetries:     3,
		PlacesRetryBaseDelay: time.Second,
		CacheTTL:             24 * time.Hour,
		CacheMaxEntries:      50,
		CacheBackend:         BackendBadger,
		DataDir:              "data",
		FavoritesBackend:     BackendBadger,
		MongoDB:              "lunchfinder",
		PhotoMemoryMaxItems:  100,
		PhotoMemoryMaxBytes:  50 * 1024 * 1024,
		PhotoDiskMaxBytes:    200 * 1024 * 1024,
		LocationPermission:   "granted",
		DefaultRadiusMeters:  1500,
		DebounceInterval:     500 * time.Millisecond,
		ThrottleInterval:     2 * time.Second,
		MaintenanceSchedule:  "@every 15m",
	}
}

// LoadConfig applies defaults, then the TOML file named by LUNCH_CONFIG_FILE
// (if any), then environment variables, and validates the result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := strings.TrimSpace(os.Getenv("LUNCH_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := applyTOML(&cfg, data); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if (c.DefaultLatitude == nil) != (c.DefaultLongitude == nil) {
		return fmt.Errorf("invalid config: DEFAULT_LATITUDE and DEFAULT_LONGITUDE must be set together")
	}
	return nil
}

// HasDefaultLocation reports whether a fixed device location is configured.
func (c Config) HasDefaultLocation() bool {
	return c.DefaultLatitude != nil && c.DefaultLongitude != nil
}

func applyTOML(cfg *Config, data []byte) error {
	var file fileConfig
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&cfg.HTTPAddr, file.Server.Addr)
	setString(&cfg.LogLevel, file.Server.LogLevel)
	setString(&cfg.LogFormat, file.Server.LogFormat)

	setString(&cfg.PlacesAPIKey, file.Places.APIKey)
	setString(&cfg.PlacesBaseURL, file.Places.BaseURL)
	setString(&cfg.PlacesLanguage, file.Places.Language)
	if file.Places.TimeoutSeconds != nil {
		cfg.PlacesTimeout = time.Duration(*file.Places.TimeoutSeconds) * time.Second
	}
	if file.Places.MaxRetries != nil {
		cfg.PlacesMaxRetries = *file.Places.MaxRetries
	}
	if err := setDuration(&cfg.PlacesRetryBaseDelay, file.Places.RetryBaseDelay, "places.retry_base_delay"); err != nil {
		return err
	}
	if file.Places.RateLimitRPS != nil {
		cfg.PlacesRateLimitRPS = *file.Places.RateLimitRPS
	}

	if err := setDuration(&cfg.CacheTTL, file.Cache.TTL, "cache.ttl"); err != nil {
		return err
	}
	if file.Cache.MaxEntries != nil {
		cfg.CacheMaxEntries = *file.Cache.MaxEntries
	}
	setString(&cfg.CacheBackend, file.Cache.Backend)

	setString(&cfg.DataDir, file.Storage.DataDir)
	setString(&cfg.RedisURL, file.Storage.RedisURL)
	setString(&cfg.FavoritesBackend, file.Storage.FavoritesBackend)
	setString(&cfg.MongoURI, file.Storage.MongoURI)
	setString(&cfg.MongoDB, file.Storage.MongoDB)

	if file.Photos.MemoryMaxItems != nil {
		cfg.PhotoMemoryMaxItems = *file.Photos.MemoryMaxItems
	}
	if file.Photos.MemoryMaxBytes != nil {
		cfg.PhotoMemoryMaxBytes = *file.Photos.MemoryMaxBytes
	}
	if file.Photos.DiskMaxBytes != nil {
		cfg.PhotoDiskMaxBytes = *file.Photos.DiskMaxBytes
	}

	setString(&cfg.LocationPermission, file.Location.Permission)
	if file.Location.Latitude != nil {
		v := *file.Location.Latitude
		cfg.DefaultLatitude = &v
	}
	if file.Location.Longitude != nil {
		v := *file.Location.Longitude
		cfg.DefaultLongitude = &v
	}
	if file.Location.RadiusMeters != nil {
		cfg.DefaultRadiusMeters = *file.Location.RadiusMeters
	}
	if err := setDuration(&cfg.DebounceInterval, file.Location.Debounce, "location.debounce_interval"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ThrottleInterval, file.Location.Throttle, "location.throttle_interval"); err != nil {
		return err
	}
	setString(&cfg.MaintenanceSchedule, file.Location.Maintenance)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", cfg.LogFormat))

	cfg.PlacesAPIKey = getEnv("PLACES_API_KEY", cfg.PlacesAPIKey)
	cfg.PlacesBaseURL = strings.TrimRight(getEnv("PLACES_BASE_URL", cfg.PlacesBaseURL), "/")
	cfg.PlacesLanguage = getEnv("PLACES_LANGUAGE", cfg.PlacesLanguage)
	cfg.PlacesTimeout = time.Duration(getEnvInt("PLACES_TIMEOUT_SECONDS", int(cfg.PlacesTimeout/time.Second))) * time.Second
	cfg.PlacesMaxRetries = getEnvNonNegativeInt("PLACES_MAX_RETRIES", cfg.PlacesMaxRetries)
	cfg.PlacesRetryBaseDelay = getEnvDuration("PLACES_RETRY_BASE_DELAY", cfg.PlacesRetryBaseDelay)
	cfg.PlacesRateLimitRPS = getEnvFloat("PLACES_RATE_LIMIT_RPS", cfg.PlacesRateLimitRPS)

	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.CacheMaxEntries = getEnvInt("CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	cfg.CacheBackend = strings.ToLower(getEnv("CACHE_BACKEND", cfg.CacheBackend))
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)

	cfg.FavoritesBackend = strings.ToLower(getEnv("FAVORITES_BACKEND", cfg.FavoritesBackend))
	cfg.MongoURI = getEnv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDB = getEnv("MONGO_DB", cfg.MongoDB)

	cfg.PhotoMemoryMaxItems = getEnvInt("PHOTO_MEMORY_MAX_ITEMS", cfg.PhotoMemoryMaxItems)
	cfg.PhotoMemoryMaxBytes = int64(getEnvInt("PHOTO_MEMORY_MAX_BYTES", int(cfg.PhotoMemoryMaxBytes)))
	cfg.PhotoDiskMaxBytes = int64(getEnvNonNegativeInt("PHOTO_DISK_MAX_BYTES", int(cfg.PhotoDiskMaxBytes)))

	cfg.LocationPermission = strings.ToLower(getEnv("LOCATION_PERMISSION", cfg.LocationPermission))
	cfg.DefaultLatitude = getEnvFloatPtr("DEFAULT_LATITUDE", cfg.DefaultLatitude)
	cfg.DefaultLongitude = getEnvFloatPtr("DEFAULT_LONGITUDE", cfg.DefaultLongitude)
	cfg.DefaultRadiusMeters = getEnvInt("DEFAULT_RADIUS_METERS", cfg.DefaultRadiusMeters)

	cfg.DebounceInterval = getEnvDuration("DEBOUNCE_INTERVAL", cfg.DebounceInterval)
	cfg.ThrottleInterval = getEnvDuration("THROTTLE_INTERVAL", cfg.ThrottleInterval)
	cfg.MaintenanceSchedule = getEnv("MAINTENANCE_SCHEDULE", cfg.MaintenanceSchedule)
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}

func setDuration(dst *time.Duration, value *string, name string) error {
	if value == nil {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(*value))
	if err != nil {
		return fmt.Errorf("parse config file: %s: %w", name, err)
	}
	*dst = parsed
	return nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvNonNegativeInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloatPtr(key string, fallback *float64) *float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return &parsed
}

// getEnvDuration accepts Go durations ("750ms") and bare seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return fallback
}
