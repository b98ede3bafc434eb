package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwbudde/bioenfit/internal/server"
	"github.com/cwbudde/bioenfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveSave    bool
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Starts an HTTP server that runs reweighting jobs submitted as JSON to
/api/v1/jobs and streams their progress as server-sent events from
/api/v1/jobs/{id}/stream. Dataset paths are resolved on the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var st store.Store
		if serveSave {
			var err error
			if st, err = openStore(serveDataDir); err != nil {
				return err
			}
		}

		srv := server.NewServer(serveAddr, st)

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		slog.Info("Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().BoolVar(&serveSave, "save", true, "Store finished runs and their traces")
	dataDirFlag(serveCmd, &serveDataDir)
	rootCmd.AddCommand(serveCmd)
}
