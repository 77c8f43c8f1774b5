package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatlink/cache"
	"github.com/pithecene-io/chatlink/cli/render"
	"github.com/pithecene-io/chatlink/cli/tui"
	"github.com/pithecene-io/chatlink/feed"
	"github.com/pithecene-io/chatlink/transcript"
	"github.com/pithecene-io/chatlink/types"
)

// ChatCommand returns the chat command.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Join the live chat feed",
		Description: `Runs the messages query, subscribes to messageAdded and keeps the list
current. On a terminal the interactive view is used; otherwise, or with
--plain, new messages are printed one per line and lines read from stdin
are sent.`,
		Flags: append(ConnectionFlags(),
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Print messages as lines instead of the interactive view",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (e.g. :9090)",
			},
			NoColorFlag,
		),
		Action: chatAction,
	}
}

func chatAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := feed.Options{Logger: s.logger, Metrics: s.metrics}

	relay, err := newRelay(cfg.Relay)
	if err != nil {
		return err
	}
	if relay != nil {
		defer func() { _ = relay.Close() }()
		opts.Relay = relay
	}

	if cfg.Transcript != "" {
		w, err := transcript.Open(cfg.Transcript)
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()
		opts.Recorder = w
	}

	if addr := c.String("metrics-addr"); addr != "" {
		stopMetrics, err := serveMetrics(ctx, addr, s)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	f := feed.New(s.client, cache.New(s.metrics), opts)
	if err := f.Start(ctx); err != nil {
		return exitFor(err)
	}
	defer f.Stop()

	if !c.Bool("plain") && render.IsTTY(os.Stdin) && render.IsTTY(os.Stdout) {
		return tui.Run(ctx, f, "chatlink")
	}

	r := render.NewRendererWithWriter(render.FormatTable, c.Bool("no-color") || !render.IsTTY(os.Stdout), os.Stdout)
	go sendLines(ctx, os.Stdin, f, s)
	return printFeed(ctx, f, r)
}

// printFeed writes each message once, in feed order, until ctx is done
// or the feed ends with an error.
func printFeed(ctx context.Context, f tui.Feed, r *render.Renderer) error {
	printed := 0
	flush := func(msgs []types.Message) error {
		for ; printed < len(msgs); printed++ {
			if err := r.WriteLine(msgs[printed]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := flush(f.Messages()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-f.Updates():
			if !ok {
				return nil
			}
			if u.Err != nil {
				return exitFor(u.Err)
			}
			if err := flush(u.Messages); err != nil {
				return err
			}
		}
	}
}

// sendLines sends each non-blank line of in as a message.
func sendLines(ctx context.Context, in io.Reader, f tui.Feed, s *session) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if _, err := f.Send(ctx, text); err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Warn("stdin read failed", map[string]any{"error": err.Error()})
	}
}

// serveMetrics exposes the session collector on addr/metrics.
func serveMetrics(ctx context.Context, addr string, s *session) (func(), error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(s.metrics); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", map[string]any{"addr": addr, "error": err.Error()})
		}
	}()
	s.logger.Info("metrics listening", map[string]any{"addr": addr})

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
