package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/mock"
	"github.com/spf13/cobra"
)

func newMockCmd(e *env) *cobra.Command {
	var (
		addr     string
		token    string
		prefix   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a fake NodePass API for demos and testing",
		Long:  "Serves the NodePass instance API and event stream from memory, with a few seeded instances whose traffic counters keep moving.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := e.defaultsOrConfig()
			logger := e.logger(cmd.ErrOrStderr(), cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := mock.NewServer(token, logger)
			srv.Seed()

			var handler http.Handler = srv.Handler()
			prefix = strings.Trim(prefix, "/")
			if prefix != "" {
				prefix = "/" + prefix
				mux := http.NewServeMux()
				mux.Handle(prefix+"/", http.StripPrefix(prefix, handler))
				handler = mux
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}
			httpSrv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

			go srv.Run(ctx, interval)
			errCh := make(chan error, 1)
			go func() { errCh <- httpSrv.Serve(ln) }()

			root := fmt.Sprintf("http://%s%s", ln.Addr(), prefix)
			fmt.Fprintf(cmd.OutOrStdout(), "NodePass mock API on %s\n", root)                                    //nolint:errcheck
			fmt.Fprintf(cmd.OutOrStdout(), "add it with: nodepanel endpoints add mock %s --token %s\n", root, token) //nolint:errcheck

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}

			logger.Info("shutting down mock API")
			srv.Shutdown()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			// Event streams never finish on their own; close whatever is left.
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				return httpSrv.Close()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "listen address")
	cmd.Flags().StringVar(&token, "token", "mock-token", "required X-API-Key")
	cmd.Flags().StringVar(&prefix, "prefix", "/api", "API path prefix")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "traffic update interval")
	return cmd
}
