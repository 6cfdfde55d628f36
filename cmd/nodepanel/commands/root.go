package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/NodePassProject/nodepass-panel/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// env holds settings shared by every command. Flags win over NODEPANEL_*
// environment variables, which win over the config file.
type env struct {
	v *viper.Viper
}

func NewRoot() *cobra.Command {
	e := &env{v: viper.New()}

	root := &cobra.Command{
		Use:           "nodepanel",
		Short:         "Terminal dashboard for NodePass tunnel masters",
		Long:          "NodePanel follows the event stream of a NodePass master API, shows its tunnel instances and lets you start, stop, restart and delete them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", config.DefaultPath(), "config file path")
	flags.String("log-level", "", "log level: debug, info, warn, error (default from config)")
	flags.String("log-file", "", "log file for the TUI (default next to the config file)")
	flags.String("endpoint", "", "endpoint name or id (default is the active endpoint)")

	e.v.SetEnvPrefix("NODEPANEL")
	e.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	e.v.AutomaticEnv()
	for _, name := range []string{"config", "log-level", "log-file", "endpoint"} {
		_ = e.v.BindPFlag(name, flags.Lookup(name))
	}

	tui := newTUICmd(e)
	root.RunE = tui.RunE

	root.AddCommand(
		tui,
		newEventsCmd(e),
		newEndpointsCmd(e),
		newInstancesCmd(e),
		newMockCmd(e),
		newVersionCmd(),
	)
	return root
}

func (e *env) configPath() string {
	if p := e.v.GetString("config"); p != "" {
		return p
	}
	return config.DefaultPath()
}

func (e *env) openStore() (*config.FileStore, error) {
	store, err := config.Open(e.configPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return store, nil
}

// defaultsOrConfig loads the config file if it is readable.
func (e *env) defaultsOrConfig() config.Config {
	cfg, err := config.Load(e.configPath())
	if err != nil {
		return *config.Defaults()
	}
	return *cfg
}

// endpoint resolves --endpoint, falling back to the active endpoint.
func (e *env) endpoint(store config.Store) (config.Endpoint, error) {
	if ref := e.v.GetString("endpoint"); ref != "" {
		ep, ok := config.Resolve(store, ref)
		if !ok {
			return config.Endpoint{}, fmt.Errorf("unknown endpoint %q", ref)
		}
		return ep, nil
	}
	ep, ok := store.Active()
	if !ok {
		return config.Endpoint{}, fmt.Errorf("no active endpoint; run 'nodepanel endpoints add' or pass --endpoint")
	}
	return ep, nil
}

func (e *env) logLevel(cfg config.Config) slog.Level {
	name := e.v.GetString("log-level")
	if name == "" {
		name = cfg.Log.Level
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// logger builds a text logger writing to w.
func (e *env) logger(w io.Writer, cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: e.logLevel(cfg)}))
}

// openLogFile opens the TUI log file. The terminal belongs to Bubble Tea, so
// the TUI never logs to stderr.
func (e *env) openLogFile(cfg config.Config) (*os.File, error) {
	path := e.v.GetString("log-file")
	if path == "" {
		path = cfg.Log.File
	}
	if path == "" {
		path = filepath.Join(filepath.Dir(e.configPath()), "nodepanel.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
