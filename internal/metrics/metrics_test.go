package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveSubmission("result_checked_in", 1500*time.Millisecond)
	m.ObserveTick("face", true)
	m.ObserveCameraFailure("camera_in_use")
	m.SetGeneration(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`kiosk_submissions_total{key="result_checked_in"} 1`,
		`kiosk_detection_ticks_total{result="face"} 1`,
		`kiosk_camera_failures_total{kind="camera_in_use"} 1`,
		`kiosk_camera_generation 3`,
		`kiosk_face_present 1`,
		`kiosk_submit_duration_seconds_count 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSubmission("x", time.Second)
	m.ObserveTick("none", false)
	m.ObserveCameraFailure("x")
	m.SetGeneration(1)
}
