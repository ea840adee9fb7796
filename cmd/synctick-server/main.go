package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/synctick/synctick/internal/bus"
	"github.com/synctick/synctick/internal/config"
	"github.com/synctick/synctick/internal/gateway"
	"github.com/synctick/synctick/internal/room"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	clock := clockwork.NewRealClock()
	registry := room.NewRegistry(clock, cfg.RoomGracePeriod)

	var relay *bus.Relay
	if cfg.NATSURL != "" {
		relay, err = bus.Connect(cfg.NATSURL, registry)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event relay")
		}
		defer relay.Close()
	}

	gw := gateway.New(registry, clock, relayOrNil(relay), gateway.DefaultConfig())

	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)
	if cfg.WebDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.WebDir)))
	}

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	}).Handler(mux)

	// No read/write timeouts: the WebSocket connections are long-lived and
	// keep themselves alive with pings.
	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Bool("relay", relay != nil).
			Dur("room_grace", cfg.RoomGracePeriod).
			Msg("timer server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("timer server shutdown complete")
}

// relayOrNil avoids handing the gateway a typed nil inside a non-nil
// interface value.
func relayOrNil(r *bus.Relay) gateway.EventRelay {
	if r == nil {
		return nil
	}
	return r
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
