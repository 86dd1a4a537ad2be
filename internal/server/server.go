// Package server exposes the kiosk over HTTP for local displays and operators.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/auth"
	"attendkiosk/internal/camera"
	"attendkiosk/internal/httpmiddleware"
	"attendkiosk/internal/kiosk"
)

// Controller is the kiosk surface the routes drive. *kiosk.Kiosk satisfies it.
type Controller interface {
	View() kiosk.View
	Subscribe() (<-chan kiosk.View, func())
	SwitchCamera(ctx context.Context) error
	RetryCamera(ctx context.Context) error
	DismissResult()
	Devices(ctx context.Context) ([]camera.Device, error)
}

// EventLister reads the attendance journal.
type EventLister interface {
	ListEvents(ctx context.Context, f attendance.EventFilter) ([]attendance.Event, error)
}

// Deps configure the router. Events, Metrics and Preview are optional.
type Deps struct {
	Kiosk           Controller
	Events          EventLister
	Metrics         http.Handler
	Preview         http.Handler
	Health          func(ctx context.Context) map[string]bool
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
	Log             logrus.FieldLogger
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	h := &handlers{d: d, log: d.Log.WithField("component", "http")}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics", "/v1/kiosk/state"},
	}))
	r.Use(securityHeaders())

	r.GET("/healthz", h.health)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	k := r.Group("/v1/kiosk")
	k.GET("/state", h.state)
	k.GET("/ws", h.watch)
	k.GET("/devices", h.devices)
	if d.Preview != nil {
		k.GET("/preview", gin.WrapH(d.Preview))
	}

	ctl := k.Group("", httpmiddleware.NewSimpleTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin).GinMiddleware())
	if d.SigningKey != "" {
		ctl.Use(auth.DeviceAuth(d.SigningKey, d.Issuer, auth.RoleOperator, auth.RoleKiosk))
	}
	ctl.POST("/camera/switch", h.switchCamera)
	ctl.POST("/camera/retry", h.retryCamera)
	ctl.POST("/result/dismiss", h.dismiss)

	if d.Events != nil {
		ev := r.Group("/v1/events")
		if d.SigningKey != "" {
			ev.Use(auth.DeviceAuth(d.SigningKey, d.Issuer, auth.RoleOperator))
		}
		ev.GET("", h.listEvents)
	}
	return r
}

type handlers struct {
	d   Deps
	log logrus.FieldLogger
}

func (h *handlers) health(c *gin.Context) {
	checks := map[string]bool{}
	if h.d.Health != nil {
		checks = h.d.Health(c.Request.Context())
	}
	status := http.StatusOK
	for _, ok := range checks {
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	v := h.d.Kiosk.View()
	c.JSON(status, gin.H{
		"status":       http.StatusText(status),
		"checks":       checks,
		"camera_ready": v.Camera.Ready,
		"models_ready": v.ModelsReady,
	})
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.d.Kiosk.View())
}

func (h *handlers) devices(c *gin.Context) {
	devs, err := h.d.Kiosk.Devices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if devs == nil {
		devs = []camera.Device{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devs})
}

func (h *handlers) switchCamera(c *gin.Context) {
	h.runRecovery(c, h.d.Kiosk.SwitchCamera)
}

func (h *handlers) retryCamera(c *gin.Context) {
	h.runRecovery(c, h.d.Kiosk.RetryCamera)
}

// runRecovery runs a camera recovery action and reports the resulting view.
// A classified acquisition failure is a 409 carrying the notice key.
func (h *handlers) runRecovery(c *gin.Context, action func(context.Context) error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()
	if err := action(ctx); err != nil {
		if errors.Is(err, kiosk.ErrStopped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "kiosk is shutting down"})
			return
		}
		var ae *camera.AcquisitionError
		if errors.As(err, &ae) {
			c.JSON(http.StatusConflict, gin.H{"error": ae.Kind.Key(), "view": h.d.Kiosk.View()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.d.Kiosk.View())
}

func (h *handlers) dismiss(c *gin.Context) {
	h.d.Kiosk.DismissResult()
	c.Status(http.StatusNoContent)
}

func (h *handlers) listEvents(c *gin.Context) {
	f := attendance.EventFilter{
		KioskID: c.Query("kiosk_id"),
		Key:     c.Query("key"),
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		f.Since = t
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, err := h.d.Events.ListEvents(c.Request.Context(), f)
	if err != nil {
		h.log.WithError(err).Error("list events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list events"})
		return
	}
	if events == nil {
		events = []attendance.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// watch streams the view over a websocket: the current snapshot first, then every change.
func (h *handlers) watch(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	views, cancel := h.d.Kiosk.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.WithError(err).Debug("websocket read")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(h.d.Kiosk.View()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
