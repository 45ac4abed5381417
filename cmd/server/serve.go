package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/visionai-api/internal/auth"
	"github.com/Brownie44l1/visionai-api/internal/config"
	"github.com/Brownie44l1/visionai-api/internal/handlers"
	"github.com/Brownie44l1/visionai-api/internal/imageproc"
	"github.com/Brownie44l1/visionai-api/internal/metrics"
	"github.com/Brownie44l1/visionai-api/internal/model"
	"github.com/Brownie44l1/visionai-api/internal/prediction"
	"github.com/Brownie44l1/visionai-api/internal/store"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.settings
	log := a.log

	if strings.EqualFold(cfg.Log.Mode, "production") {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Auth.Secret == config.DefaultJWTSecret {
		log.Warn("JWT_SECRET is not set, using the development secret")
	}

	st, err := store.Open(cfg.Database.URL, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	if mv, err := st.ActiveModel(ctx); err != nil {
		if cfg.Model.RequireActive {
			return fmt.Errorf("no active model version: %w", err)
		}
		log.Warn("no active model version, predictions will use the default tag", "tag", prediction.DefaultModelTag)
	} else {
		log.Info("active model version", "tag", mv.Tag, "filename", mv.Filename)
	}

	log.Info("loading model", "path", cfg.Model.Path)
	srv, err := model.NewServer(model.Config{
		ModelPath:    cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		LibraryPath:  cfg.Model.LibraryPath,
	})
	if err != nil {
		return fmt.Errorf("initialize model server: %w", err)
	}
	defer srv.Close()
	log.Info("model loaded", "classes", srv.Metadata.Classes, "layout", srv.Metadata.Layout, "image_size", srv.Metadata.ImageSize)

	m := metrics.New()

	tokens, err := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(st, tokens, log)
	if err != nil {
		return err
	}

	predictor := prediction.NewService(imageproc.NewNormalizer(srv.Metadata), srv, st, m, log)

	h := handlers.NewHandler(handlers.Options{
		Predictor:      predictor,
		Model:          srv,
		Store:          st,
		Auth:           authSvc,
		Metrics:        m,
		Logger:         log,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	router := handlers.NewRouter(handlers.RouterConfig{
		Handler:        h,
		Auth:           authSvc,
		Metrics:        m,
		Logger:         log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(h.CloseWebSockets)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "addr", httpServer.Addr, "version", handlers.APIVersion)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
