package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1_1/demo/image/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		want := fmt.Sprintf("%x", sha1.Sum([]byte("folder=kiosk&timestamp=1700000000secret")))
		if got := r.FormValue("signature"); got != want {
			t.Errorf("signature = %s, want %s", got, want)
		}
		if r.FormValue("api_key") != "key" {
			t.Error("api_key missing")
		}
		_, hdr, err := r.FormFile("file")
		if err != nil || hdr.Filename != "snap.jpg" {
			t.Errorf("file = %v, %v", hdr, err)
		}
		_, _ = w.Write([]byte(`{"public_id":"kiosk/snap","secure_url":"https://res.example/kiosk/snap.jpg"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "kiosk")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	url, err := c.Archive(context.Background(), "snap.jpg", []byte{0xff, 0xd8})
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://res.example/kiosk/snap.jpg" {
		t.Errorf("url = %q", url)
	}
}

func TestUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	if _, err := c.Archive(context.Background(), "x.jpg", []byte{1}); err == nil {
		t.Error("expected error")
	}
}

func TestConfigured(t *testing.T) {
	if New("", "k", "s", "").Configured() {
		t.Error("missing cloud name reported configured")
	}
	var c *Client
	if c.Configured() {
		t.Error("nil client reported configured")
	}
}
