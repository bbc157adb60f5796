package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"annotext/collab/internal/api"
	"annotext/collab/internal/config"
	"annotext/collab/internal/conflict"
	"annotext/collab/internal/dispatch"
	"annotext/collab/internal/hub"
	"annotext/collab/internal/relay"
	"annotext/collab/internal/wsapi"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()

	h := hub.New(hub.Options{
		QueueSize:    cfg.Session.SendQueueSize,
		WriteTimeout: time.Duration(cfg.Session.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Session.IdleTimeoutSecs) * time.Second,
		LockTTL:      time.Duration(cfg.Lock.TTLSecs) * time.Second,
	})
	res := conflict.New()
	disp := dispatch.New(h, res)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cross-instance broadcast relay, only when Redis is configured.
	if cfg.Redis.Addr != "" {
		rl, err := relay.New(cfg.Redis.Addr, cfg.Redis.ChannelPrefix, h)
		if err != nil {
			log.Printf("relay disabled: %v", err)
		} else {
			h.SetForwarder(rl)
			go rl.Run(ctx)
			defer rl.Close()
		}
	}

	go h.Run(ctx, time.Duration(cfg.Session.SweepIntervalSecs)*time.Second)

	handlers := api.NewHandlers(h)
	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(handlers))
	mux.Handle("/metrics", promhttp.Handler())
	wss := wsapi.NewServer(h, disp, cfg.Server.AllowedOrigins)
	mux.HandleFunc("/ws", wss.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Printf("shutdown signal received; stopping server...")
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Printf("collab server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println("server error:", err)
		os.Exit(1)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
