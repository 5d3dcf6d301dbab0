package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adfharrison1/docbind/pkg/api"
	"github.com/adfharrison1/docbind/pkg/connection"
	"github.com/adfharrison1/docbind/pkg/server"
)

var port string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the log aggregator API",
	Example: `  docbind serve                                          # embedded engine, in memory
  docbind serve --uri mongodb://localhost:27017/logs     # MongoDB
  docbind serve --config docbind.yaml --port 9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&port, "port", "p", "8080", "server port")
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := log.Default()

	cfg, err := loadConfig("memdb://log-aggregator")
	if err != nil {
		return err
	}
	dialer, err := cfg.Dialer(logger)
	if err != nil {
		return err
	}

	manager := connection.NewManager(dialer, connection.WithLogger(logger))
	colls, err := api.Declare(ctx, manager, logger)
	if err != nil {
		return err
	}
	defer colls.Close()

	if err := manager.Connect(ctx, cfg.URI); err != nil {
		return err
	}

	handler := api.NewHandler(colls.Projects, colls.LogLines, manager, api.WithLogger(logger))
	srv := server.NewServer(handler, server.WithLogger(logger))

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: srv.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("INFO: Starting docbind server on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		_ = manager.Disconnect(context.Background())
		return err
	}
	logger.Println("INFO: Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("ERROR: Server forced to shutdown: %v", err)
	}
	return manager.Disconnect(shutdownCtx)
}
