package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/buscanime/buscanime/internal/handlers"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var port string
	var sessionTTL time.Duration
	var resolver string
	var model string
	var urlUploads bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web search interface",
		Long: `Starts the Buscanime web API on the specified port.

Upload a screenshot (or post an image URL) to create a session, preview the
normalized upload, then verify it against trace.moe. Sessions idle for longer
than --session-ttl are dropped. Set --url-uploads=false when the server is
reachable from untrusted networks: URL uploads are fetched by the server.`,
		Example: `  # Start server on default port 8888
  buscanime serve

  # Start server on custom port
  buscanime serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, true)
			if err != nil {
				return err
			}
			titles, err := newResolver(resolver, model)
			if err != nil {
				return err
			}

			handler := handlers.New(a.fetcher, a.newSession, titles, handlers.WithURLUploads(urlUploads))

			// Set up routes
			mux := http.NewServeMux()
			mux.HandleFunc("/api/sessions", handler.HandleSessions)
			mux.HandleFunc("/api/sessions/", handler.HandleSessionDetail)
			mux.HandleFunc("/api/upload", handler.HandleUpload)
			mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write([]byte("OK")); err != nil {
					slog.Error("Unable to write healthcheck", "err", err)
				}
			})

			addr := ":" + port
			server := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			if sessionTTL > 0 {
				go pruneSessions(cmd.Context(), handler, sessionTTL)
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Buscanime interface available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")
	cmd.Flags().DurationVar(&sessionTTL, "session-ttl", time.Hour, "Drop sessions idle for longer than this (0 keeps them forever)")
	cmd.Flags().StringVar(&resolver, "resolver", "", "LLM used when the title cannot be read from the filename (gemini, ollama, openai)")
	cmd.Flags().BoolVar(&urlUploads, "url-uploads", true, "Accept {\"image_url\": ...} uploads; the server fetches the URL itself, so disable on public deployments")
	cmd.Flags().StringVar(&model, "model", "", "Model for the title resolver (defaults per provider)")

	return cmd
}

func pruneSessions(ctx context.Context, handler *handlers.Handler, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := handler.PruneSessions(now.Add(-ttl)); n > 0 {
				slog.Info("Pruned expired sessions", "count", n)
			}
		}
	}
}
