// Package checkrunner probes every catalogued provider once and prints the
// results as a table. The process exit code reflects the aggregate verdict,
// so the binary doubles as a deploy-time smoke test.
package checkrunner

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/engine"
	"github.com/sadewadee/source-orchestrator/internal/repository"
	"github.com/sadewadee/source-orchestrator/runner"
	"github.com/sadewadee/source-orchestrator/tlmt"
)

// Config holds configuration for the check runner
type Config struct {
	// CatalogPath is the JSON provider catalog to sweep
	CatalogPath string

	// DatabaseURL is optional; when set, persisted proxies are used for
	// the probes
	DatabaseURL string

	FetchTimeout time.Duration
	UserAgent    string
}

// CheckRunner performs a one-shot health sweep
type CheckRunner struct {
	cfg   *Config
	store *repository.Store
	eng   *engine.Engine
}

// New creates a new CheckRunner
func New(cfg *Config) (runner.Runner, error) {
	var store *repository.Store

	if cfg.DatabaseURL != "" {
		var err error

		store, err = repository.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
	}

	eng := engine.New(engine.Config{
		Store:        store,
		FetchTimeout: cfg.FetchTimeout,
		UserAgent:    cfg.UserAgent,
	})

	return &CheckRunner{
		cfg:   cfg,
		store: store,
		eng:   eng,
	}, nil
}

// Run probes each provider once, prints the table and returns an error when
// the aggregate status is not healthy. The engine is used cold: the catalog
// is loaded directly and no background loops are started.
func (c *CheckRunner) Run(ctx context.Context) error {
	_ = runner.Telemetry().Send(ctx, tlmt.NewEvent("checkrunner.Run", nil))

	if _, err := c.eng.Registry.LoadFile(c.cfg.CatalogPath); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	if c.store != nil {
		if err := c.eng.Pools.Load(ctx); err != nil {
			return err
		}
	}

	providers := c.eng.Registry.All()
	if len(providers) == 0 {
		return fmt.Errorf("catalog %s names no providers", c.cfg.CatalogPath)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tTIER\tSTATE\tRESPONSE\tERROR")

	for _, p := range providers {
		if !p.Enabled {
			fmt.Fprintf(w, "%s\t%d\tdisabled\t-\t-\n", p.ID, p.Tier)

			continue
		}

		status, err := c.eng.Monitor.TestNow(ctx, p.ID)
		if err != nil {
			fmt.Fprintf(w, "%s\t%d\t-\t-\t%v\n", p.ID, p.Tier, err)

			continue
		}

		errMsg := "-"
		if status.LastError != "" {
			errMsg = status.LastError
		}

		fmt.Fprintf(w, "%s\t%d\t%s\t%dms\t%s\n", p.ID, p.Tier, status.State, status.LastResponseMs, errMsg)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	agg := c.eng.Monitor.Aggregate()

	fmt.Fprintf(os.Stdout, "\naggregate: %s\n", agg)

	if agg != domain.StatusHealthy {
		return fmt.Errorf("aggregate status is %s", agg)
	}

	return nil
}

// Close releases the database connection
func (c *CheckRunner) Close(_ context.Context) error {
	if c.store != nil {
		return c.store.Close()
	}

	return nil
}
