package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "debug", "json")
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %s", log.GetLevel())
	}
	log.WithField("kiosk", "k1").Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not json: %v: %s", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["kiosk"] != "k1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewBadLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "chatty", "text")
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %s, want info", log.GetLevel())
	}
	if !strings.Contains(buf.String(), "unknown LOG_LEVEL") {
		t.Errorf("expected warning, got %q", buf.String())
	}
}
