package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/api/rest"
	"github.com/clintrovert/praxis/internal/store"
	transport "github.com/clintrovert/praxis/internal/temporal"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	v := viper.New()
	v.SetEnvPrefix("PRAXIS")
	v.AutomaticEnv()
	v.SetDefault("temporal_address", "localhost:7233")
	v.SetDefault("temporal_namespace", "default")
	v.SetDefault("task_queue", "backfill-queue")
	v.SetDefault("db_path", "praxis.db")
	v.SetDefault("rest_addr", ":8080")

	st, err := store.Open(v.GetString("db_path"))
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	queueClient, err := transport.NewClient(
		v.GetString("temporal_address"),
		v.GetString("temporal_namespace"),
		v.GetString("task_queue"),
		logger,
	)
	if err != nil {
		logger.Fatal("failed to create temporal client", zap.Error(err))
	}
	defer queueClient.Close()

	handler := rest.NewHandler(st, queueClient, logger)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    v.GetString("rest_addr"),
		Handler: router,
	}

	go func() {
		logger.Info("starting REST API server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start REST server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}
