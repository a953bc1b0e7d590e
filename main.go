package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"tripboard/auth"
	"tripboard/config"
	"tripboard/db"
	"tripboard/filemgr"
	"tripboard/images"
	"tripboard/live"
	"tripboard/logging"
	"tripboard/middleware"
	"tripboard/models"
	"tripboard/printout"
	"tripboard/ratelim"
	"tripboard/rdx"
	"tripboard/routes"
	"tripboard/store"
	"tripboard/tripdata"
)

// writeRatePerMinute caps document and image writes per client IP.
const writeRatePerMinute = 120

type app struct {
	handler http.Handler
	hub     *live.Hub
	closers []func() error
}

func (a *app) close(log zerolog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

// build dials the configured backend and wires every component onto one
// router. On error, whatever was opened is already closed.
func build(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(log)
		}
	}()

	backend, err := cfg.Backend()
	if err != nil {
		return nil, err
	}
	log.Info().Str("backend", string(backend)).Msg("store backend selected")

	var conns store.Conns
	switch backend {
	case config.BackendRedis:
		conns.Redis, err = rdx.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conns.Redis.Close)
	case config.BackendMongo:
		var client *mongo.Client
		client, conns.Mongo, err = db.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return client.Disconnect(context.Background()) })
	}

	seed, err := models.LoadSeed(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg, conns, store.Options{Seed: &seed, Logger: &log})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)

	index, err := images.OpenIndex(cfg, conns)
	if err != nil {
		return nil, err
	}
	var (
		blobs     filemgr.Blobs
		serveBlob httprouter.Handle
	)
	if conns.Mongo != nil {
		grid, err := filemgr.NewGridFSBlobs(conns.Mongo)
		if err != nil {
			return nil, err
		}
		blobs, serveBlob = grid, grid.Serve
	} else {
		disk, err := filemgr.NewDiskBlobs(filepath.Join(cfg.UploadDir, "tickets"), "/static/tickets")
		if err != nil {
			return nil, err
		}
		blobs = disk
	}

	a.hub = live.NewHub(conns.Redis, &log)
	go a.hub.Run()

	trips := tripdata.NewService(st, a.hub, &log)
	router := routes.New(routes.Handlers{
		Trip:     tripdata.NewHandler(trips, &log),
		Auth:     auth.NewHandler(auth.NewGate(cfg.AdminPassword), &log),
		Images:   images.NewHandler(images.NewService(index, blobs, &log), cfg.MaxUploadBytes, &log),
		Printout: printout.NewHandler(trips, printout.Renderer{FontPath: cfg.PDFFontPath, LinkURL: cfg.PublicBaseURL}, &log),
		Live:     a.hub.Handler(st.LastUpdated),
		Blobs:    serveBlob,

		AuthLimiter:  ratelim.NewRateLimiter(cfg.AuthRatePerMinute, 3),
		WriteLimiter: ratelim.NewRateLimiter(writeRatePerMinute, 20),
		StaticDir:    cfg.UploadDir,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Cache-Control", "Pragma", "Expires"},
	}).Handler(router)

	// RequestID → Logging → Recover → SecurityHeaders → Timeout → CORS → router
	a.handler = middleware.Chain(corsHandler,
		middleware.RequestID,
		middleware.Logging(log),
		middleware.Recover(log),
		middleware.SecurityHeaders,
		middleware.Timeout(cfg.RequestTimeout),
	)
	return a, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("info", false)
		l.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	if !cfg.DotEnvLoaded {
		log.Info().Msg("no .env file found; using system environment")
	}

	a, err := build(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           a.handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	// on shutdown: close live sockets so Shutdown is not held open by them
	server.RegisterOnShutdown(func() {
		log.Info().Msg("stopping live hub")
		a.hub.Stop()
	})

	go func() {
		log.Info().Str("addr", cfg.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	a.close(log)
	log.Info().Msg("server stopped")
}
