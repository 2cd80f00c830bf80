package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/visionguard/visionguard/internal/alerts"
	"github.com/visionguard/visionguard/internal/api"
	"github.com/visionguard/visionguard/internal/auth"
	"github.com/visionguard/visionguard/internal/config"
	"github.com/visionguard/visionguard/internal/data"
	"github.com/visionguard/visionguard/internal/events"
	"github.com/visionguard/visionguard/internal/hub"
	"github.com/visionguard/visionguard/internal/middleware"
	"github.com/visionguard/visionguard/internal/model"
	"github.com/visionguard/visionguard/internal/ratelimit"
	"github.com/visionguard/visionguard/internal/recorder"
	"github.com/visionguard/visionguard/internal/rtc"
	"github.com/visionguard/visionguard/internal/stream"
	"github.com/visionguard/visionguard/internal/tokens"
	"github.com/visionguard/visionguard/internal/track"
)

const shutdownGrace = 10 * time.Second

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 2. Models (startup failure exits non-zero)
	models := model.NewManager(model.Config{
		YOLOPath:         cfg.Models.YOLOPath,
		PosePath:         cfg.Models.PosePath,
		AnomalyPath:      cfg.Models.AnomalyPath,
		Device:           cfg.Models.Device,
		RuntimeLibPath:   cfg.Models.RuntimeLibPath,
		PersonConfidence: cfg.Pipeline.PersonConfidence,
		SequenceLength:   cfg.Pipeline.SequenceLength,
		InferenceWorkers: cfg.Pipeline.InferenceWorkers,
	})
	if err := models.Load(); err != nil {
		log.Fatalf("Model load error: %v", err)
	}
	defer models.Cleanup()
	models.StartWatcher(rootCtx)

	// 3. Database
	db, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}
	dataModels := data.NewModels(db)

	// 4. Redis-backed token blacklist (degrades to noop when unreachable)
	var blacklist auth.TokenBlacklist = auth.NoopBlacklist{}
	var limiter *ratelimit.Limiter
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(rootCtx).Err(); err != nil {
		log.Printf("[Server] Redis unavailable (%v), token revocation and rate limiting disabled", err)
	} else {
		blacklist = auth.NewRedisBlacklist(rdb)
		limiter = ratelimit.NewLimiter(rdb, cfg.Limits.IPHashSalt)
	}

	// 5. Optional NATS event bus
	var publisher hub.EventPublisher
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			log.Printf("[Server] NATS connection failed: %v, event publishing disabled", err)
		} else {
			defer nc.Close()
			publisher = events.NewPublisher(nc, cfg.NATS.Subject, 3)
			log.Printf("[Server] NATS connected: %s", cfg.NATS.URL)
		}
	}

	// 6. External alert sink + chat-id poller
	tg := alerts.NewTelegramClient(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken)
	sink := alerts.NewSink(dataModels.Shops, tg, time.Duration(cfg.Telegram.CooldownSeconds)*time.Second)
	poller := alerts.NewPoller(tg)
	go poller.Run(rootCtx)

	// 7. Alert hub and recorder
	alertHub := hub.New(hub.Config{
		PingInterval:     time.Duration(cfg.Hub.PingInterval) * time.Second,
		HeartbeatTimeout: time.Duration(cfg.Hub.HeartbeatTimeout) * time.Second,
		MailboxSize:      cfg.Hub.MailboxSize,
	}, sink, publisher)

	store := recorder.NewFrameStore(cfg.FrameStoreRoot)
	rec := recorder.New(store, dataModels.Anomalies)

	// 8. Streaming pipeline
	registry := stream.NewRegistry()
	factory := func(streamID, userID, shopID, location string) *stream.Processor {
		tracker := track.New(track.Config{
			IoUThreshold: cfg.Tracker.IoUThreshold,
			MaxAge:       cfg.Tracker.MaxAge,
		}, func(ctx context.Context, frame image.Image, box model.BBox) (model.PoseFrame, error) {
			return models.Pose().Estimate(ctx, frame, box)
		})
		return stream.NewProcessor(streamID, userID, shopID, location,
			stream.ProcessorConfig{
				AnomalyThreshold: cfg.Pipeline.AnomalyThreshold,
				HighCut:          cfg.Pipeline.HighCut,
				MediumCut:        cfg.Pipeline.MediumCut,
				SequenceLength:   cfg.Pipeline.SequenceLength,
			},
			stream.ProcessorDeps{
				Detector:   models.Detector(),
				Classifier: models.Classifier(),
				Pose:       models.Pose(),
				Tracker:    tracker,
				Alerts:     alertHub,
				Recorder:   rec,
			})
	}

	rtcSvc := rtc.NewService(rtc.Config{
		STUNServers:     cfg.WebRTC.STUNServers,
		SignalTimeout:   time.Duration(cfg.WebRTC.SignalTimeout) * time.Second,
		KeyframePeriod:  time.Duration(cfg.WebRTC.KeyframePeriod) * time.Second,
		DisconnectGrace: time.Duration(cfg.WebRTC.DisconnectGrace) * time.Second,
	}, dataModels.Shops, registry, factory)

	// 9. HTTP surface
	tokenMgr := tokens.NewManager(cfg.JWTSecret)
	jwtAuth := middleware.NewJWTAuth(tokenMgr, blacklist)

	allowedOrigins := cfg.AllowedOrigins
	if cfg.Environment == config.EnvDevelopment {
		allowedOrigins = nil // wildcard
	}

	router := api.NewRouter(api.RouterDeps{
		Signaling:      api.NewSignalingHandler(rtcSvc),
		Streams:        api.NewStreamHandler(registry, rtcSvc),
		AlertWS:        api.NewAlertWSHandler(alertHub, tokenMgr),
		Health:         api.NewHealthHandler(registry, alertHub),
		JWT:            jwtAuth,
		OfferLimit: middleware.RateLimit(limiter, ratelimit.LimitConfig{
			Rate:   cfg.Limits.OfferRate,
			Window: time.Duration(cfg.Limits.OfferWindowSeconds) * time.Second,
		}),
		AllowedOrigins: allowedOrigins,
	})

	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("[Server] Listening on %s (%s)", addr, cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 10. Wait for stop signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("[Server] Shutdown requested")

	// Graceful shutdown: stop polling, close alert channels, drain streams.
	rootCancel()
	alertHub.CloseAll("server_shutdown")
	rtcSvc.TeardownAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[Server] Graceful shutdown error: %v", err)
	}
	log.Printf("[Server] Stopped")
}
