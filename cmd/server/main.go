package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	agixtweb "github.com/agixt/agixt-web"
	"github.com/agixt/agixt-web/internal/handlers"
	"github.com/agixt/agixt-web/internal/services"
	"github.com/agixt/agixt-web/internal/thinking"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "agixtweb")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFilePath := flag.String("config", filepath.Join(cfgPath, "config.yaml"), "path of the config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgFilePath, cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := cfg.logger()
	slog.SetDefault(logger)

	httpClient := &http.Client{Timeout: 5 * time.Minute}

	api, err := services.NewAGiXT(cfg.AGiXTServer, cfg.ServerFallbacks, nil, logger)
	if err != nil {
		log.Fatal(err)
	}
	completions := services.NewCompletions(api.BaseURL, httpClient, logger)

	boltDB, err := services.NewBoltDB(cfg.StorePath)
	if err != nil {
		log.Fatal(err)
	}
	defer boltDB.Close()

	mainCfg := handlers.Config{
		AppName:      cfg.AppName,
		AuthURI:      cfg.AuthURI,
		CookieDomain: cfg.CookieDomain,
		DefaultAgent: cfg.DefaultAgent,
		PollInterval: cfg.PollInterval,
		ViewerGrace:  cfg.ViewerGrace,
	}
	if cfg.TranscriptMode == transcriptModeStream {
		mainCfg.Stream = func(jwt, conversationID string) thinking.Source {
			return api.StreamTranscript(jwt, conversationID)
		}
	}

	m, err := handlers.NewMain(api, completions, boltDB, services.NewMarkdown(cfg.HighlightStyle), mainCfg, logger)
	if err != nil {
		log.Fatal(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(agixtweb.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("GET /{$}", m.HandleHome)
	mux.HandleFunc("GET /chat", m.HandleHome)
	mux.HandleFunc("GET /chat/{id}", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("DELETE /chats/{id}/pending", m.HandleCancel)
	mux.HandleFunc("/agent", m.HandleAgent)
	mux.HandleFunc("GET /sse", m.HandleSSE)
	mux.HandleFunc("GET /user/logout", m.HandleLogout)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           m.Authenticate(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("addr", srv.Addr),
			slog.String("agixtServer", cfg.AGiXTServer),
			slog.String("transcriptMode", string(cfg.TranscriptMode)))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}
