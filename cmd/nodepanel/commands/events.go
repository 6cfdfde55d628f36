package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/NodePassProject/nodepass-panel/internal/stream"
	"github.com/charmbracelet/x/ansi"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// eventRecord is the --json form of an event.
type eventRecord struct {
	Time     time.Time        `json:"time"`
	Kind     stream.Kind      `json:"kind"`
	Level    stream.Level     `json:"level,omitempty"`
	Text     string           `json:"text,omitempty"`
	Instance *client.Instance `json:"instance,omitempty"`
}

func newEventsCmd(e *env) *cobra.Command {
	var (
		asJSON      bool
		count       int
		metricsAddr string
		noColor     bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the event stream of an endpoint",
		Long:  "Follows the endpoint's event stream without the dashboard, reconnecting after failures. Stops on Ctrl-C or after --count events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.openStore()
			if err != nil {
				return err
			}
			ep, err := e.endpoint(store)
			if err != nil {
				return err
			}
			if err := ep.Validate(); err != nil {
				return err
			}
			cfg := store.Config()
			logger := e.logger(cmd.ErrOrStderr(), cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var metrics *stream.Metrics
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector())
				metrics = stream.NewMetrics(reg)
				bound, err := serveMetrics(ctx, metricsAddr, reg)
				if err != nil {
					return err
				}
				logger.Info("serving metrics", "addr", bound)
			}

			session := stream.NewSession(stream.Options{
				EventsPath:     cfg.Stream.EventsPath,
				ReconnectDelay: cfg.Stream.ReconnectDelay,
				Logger:         logger,
				Metrics:        metrics,
				OnStateChange: func(st stream.State) {
					logger.Debug("stream state", "state", st)
				},
			})

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = session.Run(runCtx)
			}()

			ch := make(chan stream.Event, 64)
			sink := func(ev stream.Event) {
				select {
				case ch <- ev:
				case <-runCtx.Done():
				}
			}
			if err := session.Start(ep.Identity(), sink); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			p := newPrinter(out, asJSON, noColor)
			seen := 0
			for {
				select {
				case <-runCtx.Done():
					<-done
					return nil
				case ev := <-ch:
					if err := p.print(ev); err != nil {
						return err
					}
					seen++
					if count > 0 && seen >= count {
						cancel()
						<-done
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per event")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many events (0 = follow forever)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

// serveMetrics starts a /metrics listener that stops with ctx and returns
// the bound address.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "metrics server:", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return ln.Addr().String(), nil
}

type printer struct {
	w      io.Writer
	enc    *json.Encoder
	color  bool
	levels map[stream.Level]*color.Color
	kinds  map[stream.Kind]*color.Color
	dim    *color.Color
}

// newPrinter colors output only when w is a terminal.
func newPrinter(w io.Writer, asJSON, noColor bool) *printer {
	p := &printer{w: w}
	if asJSON {
		p.enc = json.NewEncoder(w)
		return p
	}
	useColor := !noColor
	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		useColor = false
	}
	p.color = useColor
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if !useColor {
			c.DisableColor()
		}
		return c
	}
	p.dim = mk(color.Faint)
	p.levels = map[stream.Level]*color.Color{
		stream.LevelDebug: mk(color.FgHiBlack),
		stream.LevelInfo:  mk(color.FgBlue),
		stream.LevelWarn:  mk(color.FgYellow),
		stream.LevelError: mk(color.FgRed),
		stream.LevelFatal: mk(color.FgMagenta, color.Bold),
	}
	p.kinds = map[stream.Kind]*color.Color{
		stream.KindInitial:  mk(color.FgCyan),
		stream.KindCreate:   mk(color.FgGreen),
		stream.KindUpdate:   mk(color.FgCyan),
		stream.KindDelete:   mk(color.FgRed),
		stream.KindLog:      mk(color.Reset),
		stream.KindShutdown: mk(color.FgYellow),
		stream.KindError:    mk(color.FgRed, color.Bold),
	}
	return p
}

func (p *printer) print(ev stream.Event) error {
	if p.enc != nil {
		rec := eventRecord{Time: ev.Time, Kind: ev.Kind, Level: ev.Level}
		if inst, ok := ev.Instance(); ok {
			rec.Instance = &inst
		} else {
			rec.Text, _ = ev.Text()
		}
		return p.enc.Encode(rec)
	}

	kind := p.kinds[ev.Kind]
	if kind == nil {
		kind = p.dim
	}
	line := p.dim.Sprint(ev.Time.Format("15:04:05")) + " " + kind.Sprintf("%-8s", ev.Kind) + " "
	if c, ok := p.levels[ev.Level]; ok {
		line += c.Sprint(ev.Level) + " "
	}
	text := ev.String()
	if !p.color {
		text = ansi.Strip(text)
	}
	line += text
	_, err := fmt.Fprintln(p.w, line)
	return err
}
