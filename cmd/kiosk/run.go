package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/auth"
	"attendkiosk/internal/camera"
	"attendkiosk/internal/camera/v4l"
	"attendkiosk/internal/cloudinary"
	"attendkiosk/internal/detect"
	"attendkiosk/internal/detect/opencv"
	"attendkiosk/internal/feedback"
	"attendkiosk/internal/geo"
	"attendkiosk/internal/kiosk"
	"attendkiosk/internal/markclient"
	"attendkiosk/internal/metrics"
	"attendkiosk/internal/preview"
	"attendkiosk/internal/queue"
	"attendkiosk/internal/server"
	"attendkiosk/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the kiosk agent and its local HTTP surface",
	RunE:  runKiosk,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("device", "", "Capture device, overrides CAMERA_DEVICE")
	runCmd.Flags().String("port", "", "HTTP port, overrides HTTP_PORT")
}

func runKiosk(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetString("device"); v != "" {
		cfg.CameraDevice = v
	}
	if v, _ := cmd.Flags().GetString("port"); v != "" {
		cfg.HTTPPort = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	loc := cfg.Location()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	catalog := feedback.MustDefault()

	cam := camera.NewManager(v4l.New(log), camera.Options{
		DeviceID:          cfg.CameraDevice,
		Facing:            camera.FacingMode(cfg.CameraFacing),
		IdealWidth:        cfg.CameraWidth,
		IdealHeight:       cfg.CameraHeight,
		ReadyPollInterval: cfg.ReadyPollInterval,
		ReadyTimeout:      cfg.ReadyTimeout,
		RetryDelay:        cfg.RetryDelay,
	}, log)

	model := detect.LoadAsync(ctx, opencv.Loader(opencv.Options{
		Kind:     opencv.Kind(cfg.DetectorKind),
		Model:    cfg.DetectorModel,
		Config:   cfg.DetectorConfig,
		MinScore: cfg.DetectorMinScore,
	}), log)

	var locator geo.Locator = geo.Static{Position: geo.Position{Latitude: cfg.GeoLatitude, Longitude: cfg.GeoLongitude}}
	if cfg.GeoURL != "" {
		locator = geo.NewHTTP(cfg.GeoURL)
	}

	creds := auth.NewCredentials(cfg.KioskToken, cfg.KioskID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
	submitter := attendance.NewSubmitter(cam, locator, markclient.New(cfg.MarkAPIURL, cfg.SubmitTimeout), creds, catalog, attendance.Options{
		JPEGQuality:          cfg.JPEGQuality,
		MaxWidth:             cfg.CaptureMaxWidth,
		GeoTimeout:           cfg.GeoTimeout,
		Cooldown:             cfg.Cooldown,
		UnregisteredCooldown: cfg.UnregisteredCooldown,
		Location:             loc,
	}, log)

	g, gctx := errgroup.WithContext(ctx)

	health := map[string]func(context.Context) bool{}
	var repo *attendance.Repository
	if cfg.DatabaseURL != "" {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Warn("journal database not reachable, /v1/events disabled")
		} else {
			defer db.Close()
			repo = attendance.NewRepository(db.Client)
			health["db"] = func(ctx context.Context) bool { return db.Client.PingContext(ctx) == nil }
			if cfg.QueueBackend == "memory" {
				if err := db.Migrate(ctx, log); err != nil {
					return err
				}
			}
		}
	}

	var publisher kiosk.Publisher
	switch cfg.QueueBackend {
	case "redis":
		rdb := store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		publisher = queue.NewRedisQueue(rdb.Client, cfg.QueueKey, log)
		health["redis"] = rdb.Healthy
	case "memory":
		// no separate worker: journal in-process
		mem := queue.NewInMemory(64)
		publisher = mem
		var events attendance.EventStore
		if repo != nil {
			events = repo
		}
		journal := newJournal(events)
		g.Go(func() error {
			err := journal.Consume(gctx, mem, func(o string) { m.EventsRecorded.WithLabelValues(o).Inc() })
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	k := kiosk.New(kiosk.Deps{
		Camera:    cam,
		Model:     model,
		Submitter: submitter,
		Catalog:   catalog,
		Queue:     publisher,
		Metrics:   m,
		Log:       log,
	}, kiosk.Options{
		KioskID:           cfg.KioskID,
		PollInterval:      cfg.PollInterval,
		PresenceThreshold: cfg.PresenceThreshold,
		Cooldown:          cfg.Cooldown,
		InUseCooldown:     cfg.InUseCooldown,
		ResultOverlay:     cfg.ResultOverlay,
	})

	deps := server.Deps{
		Kiosk:           k,
		Metrics:         m.Handler(),
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Log:             log,
		Health: func(ctx context.Context) map[string]bool {
			out := map[string]bool{}
			for name, check := range health {
				out[name] = check(ctx)
			}
			return out
		},
	}

	if repo != nil {
		deps.Events = repo
	}

	if cfg.PreviewEnabled {
		feeder := preview.NewFeeder(cam, func() (*detect.Box, bool) {
			v := k.View()
			return v.Box, v.Present
		}, preview.Options{MaxWidth: cfg.CaptureMaxWidth, Quality: cfg.JPEGQuality}, func(n int) {
			m.PreviewClients.Set(float64(n))
		}, log)
		deps.Preview = feeder.Stream()
		g.Go(func() error {
			feeder.Run(gctx)
			return nil
		})
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket and mjpeg streams stay open
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		return k.Run(gctx)
	})
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("starting kiosk http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server forced shutdown")
		}
		return nil
	})

	err := g.Wait()
	log.Info("kiosk exited")
	return err
}

// newJournal builds the journal used by the in-process consumer.
func newJournal(events attendance.EventStore) *attendance.Journal {
	var archiver attendance.Archiver
	if c := cloudinary.New(cfg.CloudinaryCloud, cfg.CloudinaryKey, cfg.CloudinarySecret, cfg.CloudinaryFolder); c.Configured() {
		archiver = c
	}
	return attendance.NewJournal(events, archiver, attendance.JournalOptions{
		Template:     cfg.NotifyTemplate,
		Organization: cfg.Organization,
		Location:     cfg.Location(),
	}, log)
}
