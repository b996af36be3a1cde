package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copybot/internal/controlplane/server"
	"github.com/betbot/copybot/internal/copier"
	"github.com/betbot/copybot/internal/execution"
	"github.com/betbot/copybot/internal/notify"
	"github.com/betbot/copybot/internal/session"
	"github.com/betbot/copybot/internal/store"
	"github.com/betbot/copybot/internal/venue"
	"github.com/betbot/copybot/pkg/config"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/secretstore"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("COPYBOT_CONFIG"), "YAML config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		logrus.Fatalf("open store failed: %v", err)
	}
	defer st.Close()

	var secretsKey []byte
	if cfg.Store.SecretsKeyHex != "" {
		secretsKey, err = hex.DecodeString(cfg.Store.SecretsKeyHex)
		if err != nil {
			logrus.Fatalf("decode secrets key failed: %v", err)
		}
	}
	secrets, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.Store.SecretsPath,
		EncryptionKey: secretsKey,
	})
	if err != nil {
		logrus.Fatalf("open secret store failed: %v", err)
	}
	defer secrets.Close()

	mux := venue.NewMultiplexer(venue.Config{
		URL:            cfg.Venue.URL,
		DialTimeout:    cfg.Venue.DialTimeout,
		WriteTimeout:   cfg.Venue.WriteTimeout,
		RequestTimeout: cfg.Venue.RequestTimeout,
	})
	defer mux.Close()

	adapter := execution.NewAdapter(mux, cfg.Venue.Currency, cfg.Venue.RequestTimeout)
	notifier := notify.NewWebhook(cfg.Notify.WebhookURL)
	tracker := session.NewTracker(st, notifier)
	engine := copier.NewEngine(st, secrets, adapter, cfg.Copier.MinStake)
	reconciler := copier.NewReconciler(st, tracker)

	srv := server.New(st, secrets, tracker, engine, reconciler)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.Infof("copybot listening on %s", cfg.Server.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("http server error: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	logrus.Info("copybot stopped")
}
