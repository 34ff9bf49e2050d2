package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"marcus/internal/config"
	"marcus/internal/core"
	"marcus/internal/logging"
	"marcus/internal/oracle"
	"marcus/internal/provider"
	"marcus/internal/store"
	"marcus/internal/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination server over stdio",
	Long: `Starts the server and speaks newline-delimited JSON on stdin/stdout:
one request object per line in, one response object per line out.

Requests carry a tool name, the calling agent id, a role, and tool
arguments. Background workers sweep expired leases, reconcile the kanban
mirror, and refresh board diagnostics until the process is signalled or
stdin closes.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, c, err := buildCore(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Recover(); err != nil {
		return fmt.Errorf("recovering state: %w", err)
	}

	watcher, err := config.Watch(cfgPath, nil)
	if err != nil {
		logging.Boot("config watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	logging.Boot("marcus %s serving (provider=%s, store=%s)",
		cfg.Version, cfg.Provider.Backend, cfg.Store.Backend)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(ctx) })
	g.Go(func() error {
		defer stop() // stdin closing shuts the server down
		return serveStdio(ctx, c)
	})
	g.Go(func() error {
		logEvents(c)
		return nil
	})

	err = g.Wait()
	if err == context.Canceled {
		err = nil
	}
	logging.Boot("marcus stopped")
	return err
}

// buildCore assembles the server from configuration: durable store,
// kanban provider, optional AI oracle, and the core itself.
func buildCore(ctx context.Context) (*config.Config, *core.Core, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	backend, err := provider.New(cfg.Provider)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	// Transient backend failures back off and retry before the mirror
	// gives up and leaves the repair to reconciliation.
	prov := provider.WithRetry(backend, cfg.Provider.RetryAttempts, cfg.Provider.RetryBase())

	var orc oracle.Oracle
	if cfg.Oracle.Enabled && cfg.Oracle.APIKey != "" {
		orc, err = oracle.NewGenAI(ctx, cfg.Oracle.APIKey, cfg.Oracle.Model)
		if err != nil {
			logging.Oracle("oracle unavailable, using fallback only: %v", err)
			orc = nil
		}
	}

	return cfg, core.New(cfg, st, prov, orc), nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sql":
		return store.NewSQLStore(cfg.Store.Path)
	default:
		return store.NewFileStore(cfg.Store.Path)
	}
}

// serveStdio reads one JSON request per line and writes one JSON
// response per line. Malformed lines get an error envelope rather than
// killing the stream.
func serveStdio(ctx context.Context, c *core.Core) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req core.Request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(core.Response{
				OK:        false,
				ErrorKind: types.KindInvalidArgument,
				Message:   fmt.Sprintf("malformed request: %v", err),
			})
			continue
		}
		if err := enc.Encode(c.Dispatch(ctx, req)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// logEvents drains the board event stream into the log until the core
// closes it.
func logEvents(c *core.Core) {
	for ev := range c.Events() {
		logging.Worker("event %s task=%s agent=%s %s", ev.Type, ev.TaskID, ev.AgentID, ev.Detail)
	}
}
