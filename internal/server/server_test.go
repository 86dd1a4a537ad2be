package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/auth"
	"attendkiosk/internal/camera"
	"attendkiosk/internal/kiosk"
	"attendkiosk/internal/presence"
)

type fakeKiosk struct {
	mu        sync.Mutex
	view      kiosk.View
	switchErr error
	switches  int
	dismissed bool
	subs      []chan kiosk.View
}

func (f *fakeKiosk) View() kiosk.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeKiosk) Subscribe() (<-chan kiosk.View, func()) {
	ch := make(chan kiosk.View, 1)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeKiosk) push(v kiosk.View) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- v
	}
}

func (f *fakeKiosk) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeKiosk) SwitchCamera(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switches++
	return f.switchErr
}

func (f *fakeKiosk) RetryCamera(ctx context.Context) error { return nil }

func (f *fakeKiosk) DismissResult() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = true
}

func (f *fakeKiosk) Devices(ctx context.Context) ([]camera.Device, error) {
	return []camera.Device{{ID: "/dev/video0", Label: "Integrated"}}, nil
}

type fakeEvents struct {
	got attendance.EventFilter
}

func (f *fakeEvents) ListEvents(ctx context.Context, filter attendance.EventFilter) ([]attendance.Event, error) {
	f.got = filter
	return []attendance.Event{{ID: "e1", KioskID: filter.KioskID, Key: "result_checked_in"}}, nil
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newRouter(k Controller, mutate func(*Deps)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	d := Deps{Kiosk: k, Log: quiet()}
	if mutate != nil {
		mutate(&d)
	}
	return NewRouter(d)
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestState(t *testing.T) {
	k := &fakeKiosk{view: kiosk.View{Present: true, Phase: presence.Accumulating, ModelsReady: true}}
	w := do(newRouter(k, nil), http.MethodGet, "/v1/kiosk/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["phase"] != "accumulating" || got["present"] != true {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	k := &fakeKiosk{}
	r := newRouter(k, func(d *Deps) {
		d.Health = func(ctx context.Context) map[string]bool { return map[string]bool{"redis": false} }
	})
	if w := do(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", w.Code)
	}
	if w := do(newRouter(k, nil), http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("code without checks = %d", w.Code)
	}
}

func TestSwitchCameraFailureIsConflict(t *testing.T) {
	k := &fakeKiosk{switchErr: camera.Classify(syscall.EBUSY)}
	w := do(newRouter(k, nil), http.MethodPost, "/v1/kiosk/camera/switch", "")
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "camera_in_use") {
		t.Errorf("code = %d body = %s", w.Code, w.Body.String())
	}
}

func TestRecoveryDuringShutdownIsUnavailable(t *testing.T) {
	k := &fakeKiosk{switchErr: kiosk.ErrStopped}
	w := do(newRouter(k, nil), http.MethodPost, "/v1/kiosk/camera/switch", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d body = %s", w.Code, w.Body.String())
	}
}

func TestControlRequiresToken(t *testing.T) {
	k := &fakeKiosk{}
	r := newRouter(k, func(d *Deps) {
		d.SigningKey = "secret"
		d.Issuer = "attendkiosk"
	})
	if w := do(r, http.MethodPost, "/v1/kiosk/camera/retry", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous code = %d", w.Code)
	}
	tok, err := auth.Issue("ops", auth.RoleOperator, "attendkiosk", "secret", time.Minute, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if w := do(r, http.MethodPost, "/v1/kiosk/camera/retry", tok.Value); w.Code != http.StatusOK {
		t.Errorf("operator code = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/kiosk/result/dismiss", tok.Value); w.Code != http.StatusNoContent || !k.dismissed {
		t.Errorf("dismiss code = %d", w.Code)
	}
	// read-only routes stay open
	if w := do(r, http.MethodGet, "/v1/kiosk/devices", ""); w.Code != http.StatusOK {
		t.Errorf("devices code = %d", w.Code)
	}
}

func TestControlRateLimited(t *testing.T) {
	k := &fakeKiosk{}
	r := newRouter(k, func(d *Deps) { d.RateLimitPerMin = 1 })
	do(r, http.MethodPost, "/v1/kiosk/camera/switch", "")
	if w := do(r, http.MethodPost, "/v1/kiosk/camera/switch", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d", w.Code)
	}
	if k.switches != 1 {
		t.Errorf("switches = %d", k.switches)
	}
}

func TestListEvents(t *testing.T) {
	ev := &fakeEvents{}
	r := newRouter(&fakeKiosk{}, func(d *Deps) { d.Events = ev })
	w := do(r, http.MethodGet, "/v1/events?kiosk_id=lobby&since=2026-03-04T00:00:00Z&limit=10", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"id":"e1"`) {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	if ev.got.KioskID != "lobby" || ev.got.Limit != 10 || ev.got.Since.IsZero() {
		t.Errorf("filter = %+v", ev.got)
	}
	if w := do(r, http.MethodGet, "/v1/events?since=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad since code = %d", w.Code)
	}
}

func TestEventsRouteAbsentWithoutJournal(t *testing.T) {
	if w := do(newRouter(&fakeKiosk{}, nil), http.MethodGet, "/v1/events", ""); w.Code != http.StatusNotFound {
		t.Errorf("code = %d", w.Code)
	}
}

func TestWatchStreamsViews(t *testing.T) {
	k := &fakeKiosk{view: kiosk.View{Phase: presence.Idle}}
	srv := httptest.NewServer(newRouter(k, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/kiosk/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first["phase"] != "idle" {
		t.Errorf("first = %v", first)
	}

	// the handler subscribes after the upgrade
	for i := 0; i < 100 && k.subscribers() == 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	k.push(kiosk.View{Phase: presence.Triggered, Loading: true})

	var next map[string]any
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatal(err)
	}
	if next["phase"] != "triggered" || next["loading"] != true {
		t.Errorf("next = %v", next)
	}
}
