package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML or JSON config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load %s: %v", *configPath, err)
	}
	SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := newDashboard(newConfigStore(*configPath, cfg))
	d.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           corsMiddleware(cfg.AllowedOrigin, newMux(d)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Litho monitor running on %s", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	d.Close()
}

func newMux(d *Dashboard) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", d.handleGetStatus)
	mux.HandleFunc("GET /api/series/{metric}", d.handleGetSeries)
	mux.HandleFunc("GET /api/charts/{metric}", d.handleGetChart)
	mux.HandleFunc("POST /api/ingest", d.handleIngest)
	mux.HandleFunc("PUT /api/active", d.handlePutActive)
	mux.HandleFunc("PUT /api/viewport", d.handlePutViewport)
	mux.HandleFunc("PUT /api/visibility", d.handlePutVisibility)
	mux.HandleFunc("GET /api/alarms", d.handleGetAlarms)
	mux.HandleFunc("GET /api/health", d.handleGetHealth)
	mux.HandleFunc("GET /api/config", d.handleGetConfig)
	mux.HandleFunc("PUT /api/config", d.handlePutConfig)
	mux.HandleFunc("/ws", d.handleWS)
	return mux
}

func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
