package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env        string
	HTTPPort   string
	WorkerPort string
	KioskID    string
	Timezone   string

	MarkAPIURL    string
	SubmitTimeout time.Duration
	KioskToken    string

	CameraDevice      string
	CameraFacing      string
	CameraWidth       int
	CameraHeight      int
	ReadyPollInterval time.Duration
	ReadyTimeout      time.Duration
	RetryDelay        time.Duration

	PollInterval         time.Duration
	PresenceThreshold    time.Duration
	Cooldown             time.Duration
	UnregisteredCooldown time.Duration
	InUseCooldown        time.Duration
	ResultOverlay        time.Duration

	DetectorKind     string
	DetectorModel    string
	DetectorConfig   string
	DetectorMinScore float64

	JPEGQuality     int
	CaptureMaxWidth int

	GeoTimeout   time.Duration
	GeoURL       string
	GeoLatitude  float64
	GeoLongitude float64
	// GeoFixed is set when both coordinates came from the environment.
	GeoFixed bool

	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration

	DatabaseURL  string
	RedisAddr    string
	QueueBackend string
	QueueKey     string

	CloudinaryCloud  string
	CloudinaryKey    string
	CloudinarySecret string
	CloudinaryFolder string

	PreviewEnabled bool

	NotifyTemplate  string
	Organization    string
	RateLimitPerMin int
	LogLevel        string
	LogFormat       string
}

// Load reads .env when present, then returns config populated from environment variables with sensible defaults.
func Load() App {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("could not read .env, using process environment")
	}
	return App{
		Env:        getEnv("APP_ENV", "dev"),
		HTTPPort:   getEnv("HTTP_PORT", "8090"),
		WorkerPort: getEnv("WORKER_HTTP_PORT", "8091"),
		KioskID:    getEnv("KIOSK_DEVICE_ID", hostname()),
		Timezone:   getEnv("TIMEZONE", "Local"),

		MarkAPIURL:    getEnv("MARK_API_URL", "http://localhost:8081"),
		SubmitTimeout: durationEnv("SUBMIT_TIMEOUT", 45*time.Second),
		KioskToken:    getEnv("KIOSK_TOKEN", ""),

		CameraDevice:      getEnv("CAMERA_DEVICE", ""),
		CameraFacing:      getEnv("CAMERA_FACING", ""),
		CameraWidth:       intEnv("CAMERA_WIDTH", 500),
		CameraHeight:      intEnv("CAMERA_HEIGHT", 500),
		ReadyPollInterval: durationEnv("READY_POLL_INTERVAL", 100*time.Millisecond),
		ReadyTimeout:      durationEnv("READY_TIMEOUT", 5*time.Second),
		RetryDelay:        durationEnv("RETRY_DELAY", 500*time.Millisecond),

		PollInterval:         durationEnv("POLL_INTERVAL", time.Second),
		PresenceThreshold:    durationEnv("PRESENCE_THRESHOLD", 3*time.Second),
		Cooldown:             durationEnv("COOLDOWN", 4*time.Second),
		UnregisteredCooldown: durationEnv("UNREGISTERED_COOLDOWN", 2*time.Second),
		InUseCooldown:        durationEnv("IN_USE_COOLDOWN", 4*time.Second),
		ResultOverlay:        durationEnv("RESULT_OVERLAY", 5*time.Second),

		DetectorKind:     getEnv("DETECTOR_KIND", "ssd"),
		DetectorModel:    getEnv("DETECTOR_MODEL", "/usr/share/attendkiosk/res10_300x300_ssd_iter_140000.caffemodel"),
		DetectorConfig:   getEnv("DETECTOR_CONFIG", "/usr/share/attendkiosk/deploy.prototxt"),
		DetectorMinScore: floatEnv("DETECTOR_MIN_SCORE", 0.5),

		JPEGQuality:     intEnv("JPEG_QUALITY", 60),
		CaptureMaxWidth: intEnv("CAPTURE_MAX_WIDTH", 640),

		GeoTimeout:   durationEnv("GEO_TIMEOUT", 10*time.Second),
		GeoURL:       getEnv("GEO_URL", ""),
		GeoLatitude:  floatEnv("GEO_LATITUDE", 0),
		GeoLongitude: floatEnv("GEO_LONGITUDE", 0),
		GeoFixed:     isSet("GEO_LATITUDE") && isSet("GEO_LONGITUDE"),

		JWTIssuer:     getEnv("JWT_ISSUER", "attendkiosk"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", ""),
		AccessTTL:     durationEnv("ACCESS_TTL", 15*time.Minute),

		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend: getEnv("QUEUE_BACKEND", "none"),
		QueueKey:     getEnv("QUEUE_KEY", "kiosk:events"),

		CloudinaryCloud:  getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinarySecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder: getEnv("CLOUDINARY_FOLDER", "kiosk-unrecognized"),

		PreviewEnabled: boolEnv("PREVIEW_ENABLED", true),

		NotifyTemplate:  getEnv("NOTIFY_TEMPLATE", ""),
		Organization:    getEnv("ORGANIZATION", ""),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 30),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}
}

// Validate rejects settings the kiosk cannot run with.
func (a App) Validate() error {
	var errs []error
	if a.MarkAPIURL == "" {
		errs = append(errs, errors.New("MARK_API_URL is required"))
	}
	if a.PollInterval <= 0 || a.PresenceThreshold <= 0 || a.Cooldown <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL, PRESENCE_THRESHOLD and COOLDOWN must be positive"))
	}
	if a.JPEGQuality < 1 || a.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("JPEG_QUALITY %d out of range 1-100", a.JPEGQuality))
	}
	if a.GeoURL == "" && !a.GeoFixed {
		errs = append(errs, errors.New("GEO_URL or both GEO_LATITUDE and GEO_LONGITUDE are required"))
	}
	switch a.QueueBackend {
	case "redis", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", a.QueueBackend))
	}
	switch a.CameraFacing {
	case "", "user", "environment":
	default:
		errs = append(errs, fmt.Errorf("CAMERA_FACING must be user or environment, got %q", a.CameraFacing))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to local time.
func (a App) Location() *time.Location {
	if a.Timezone == "" || strings.EqualFold(a.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		logrus.WithError(err).Warnf("unknown TIMEZONE %q, using local time", a.Timezone)
		return time.Local
	}
	return loc
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "kiosk"
	}
	return h
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func isSet(key string) bool {
	return strings.TrimSpace(os.Getenv(key)) != ""
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			logrus.Warnf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
		logrus.Warnf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
		logrus.Warnf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
		logrus.Warnf("invalid float for %s, using fallback %v", key, fallback)
	}
	return fallback
}
