package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"POLL_INTERVAL", "PRESENCE_THRESHOLD", "COOLDOWN", "UNREGISTERED_COOLDOWN", "JPEG_QUALITY", "SUBMIT_TIMEOUT", "GEO_TIMEOUT", "QUEUE_BACKEND"} {
		t.Setenv(k, "")
	}
	t.Setenv("GEO_URL", "")
	t.Setenv("GEO_LATITUDE", "12.97")
	t.Setenv("GEO_LONGITUDE", "77.59")
	cfg := Load()
	if cfg.PollInterval != time.Second || cfg.PresenceThreshold != 3*time.Second || cfg.Cooldown != 4*time.Second {
		t.Errorf("timing defaults = %v %v %v", cfg.PollInterval, cfg.PresenceThreshold, cfg.Cooldown)
	}
	if cfg.UnregisteredCooldown != 2*time.Second || cfg.SubmitTimeout != 45*time.Second || cfg.GeoTimeout != 10*time.Second {
		t.Errorf("timeouts = %v %v %v", cfg.UnregisteredCooldown, cfg.SubmitTimeout, cfg.GeoTimeout)
	}
	if cfg.JPEGQuality != 60 || cfg.QueueBackend != "none" {
		t.Errorf("jpeg=%d queue=%q", cfg.JPEGQuality, cfg.QueueBackend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("COOLDOWN", "6s")
	t.Setenv("JPEG_QUALITY", "80")
	t.Setenv("GEO_LATITUDE", "12.97")
	t.Setenv("PREVIEW_ENABLED", "false")
	t.Setenv("POLL_INTERVAL", "soon")

	cfg := Load()
	if cfg.Cooldown != 6*time.Second || cfg.JPEGQuality != 80 || cfg.GeoLatitude != 12.97 || cfg.PreviewEnabled {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("invalid duration should fall back, got %v", cfg.PollInterval)
	}
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.QueueBackend = "kafka"
	cfg.JPEGQuality = 0
	cfg.CameraFacing = "sideways"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation errors")
	}
}

func TestValidate_RequiresGeolocationSource(t *testing.T) {
	t.Setenv("GEO_URL", "")
	t.Setenv("GEO_LATITUDE", "")
	t.Setenv("GEO_LONGITUDE", "")
	cfg := Load()
	if cfg.GeoFixed {
		t.Fatal("coordinates must not count as set when absent")
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error without any geolocation source")
	}

	// an explicit 0,0 is a real position
	t.Setenv("GEO_LATITUDE", "0")
	t.Setenv("GEO_LONGITUDE", "0")
	if err := Load().Validate(); err != nil {
		t.Errorf("explicit coordinates rejected: %v", err)
	}

	t.Setenv("GEO_LATITUDE", "")
	t.Setenv("GEO_URL", "http://localhost:9000/position")
	if err := Load().Validate(); err != nil {
		t.Errorf("GEO_URL rejected: %v", err)
	}
}

func TestLocation(t *testing.T) {
	if (App{Timezone: "Local"}).Location() != time.Local {
		t.Error("Local should map to time.Local")
	}
	if (App{Timezone: "Not/AZone"}).Location() != time.Local {
		t.Error("bad zone should fall back")
	}
	if loc := (App{Timezone: "UTC"}).Location(); loc.String() != "UTC" {
		t.Errorf("loc = %v", loc)
	}
}
