package commands

import (
	"context"
	"fmt"

	"github.com/NodePassProject/nodepass-panel/internal/app"
	"github.com/NodePassProject/nodepass-panel/internal/config"
	"github.com/NodePassProject/nodepass-panel/internal/stream"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func newTUICmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive dashboard (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.openStore()
			if err != nil {
				return err
			}
			cfg := store.Config()

			logFile, err := e.openLogFile(cfg)
			if err != nil {
				return err
			}
			defer logFile.Close() //nolint:errcheck
			logger := e.logger(logFile, cfg)

			// --endpoint picks the endpoint for this run and makes it active.
			if e.v.GetString("endpoint") != "" {
				ep, err := e.endpoint(store)
				if err != nil {
					return err
				}
				if err := store.SetActive(ep.ID); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			session := stream.NewSession(stream.Options{
				EventsPath:     cfg.Stream.EventsPath,
				ReconnectDelay: cfg.Stream.ReconnectDelay,
				Logger:         logger,
			})
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = session.Run(ctx)
			}()

			m := app.New(app.Deps{
				Context: ctx,
				Session: session,
				Store:   store,
				Logger:  logger,

				ReconnectDelay: cfg.Stream.ReconnectDelay,
			})
			if err := config.Watch(ctx, store.Path(), logger, m.ConfigChanged); err != nil {
				logger.Warn("config hot reload disabled", "err", err)
			}

			logger.Info("starting tui", "config", store.Path())
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			cancel()
			<-done
			if err != nil {
				return fmt.Errorf("running tui: %w", err)
			}
			return nil
		},
	}
}
