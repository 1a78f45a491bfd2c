// TinyDb command-line entrypoint: runs the admin HTTP server, or performs a
// one-off stats or compact operation against a database file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tinydb-go/tinydb/internal/httpapi"
	"github.com/tinydb-go/tinydb/internal/logger"
	"github.com/tinydb-go/tinydb/internal/metrics"
	"github.com/tinydb-go/tinydb/pkg/engine"
)

// Build information (set via ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "tinydb",
		Usage:   "Embedded single-file BSON document database",
		Version: Version,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Show version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("tinydb %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
					return nil
				},
			},
			{
				Name:  "run",
				Usage: "Start the TinyDb admin HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Value: "tinydb.db", Usage: "Database file path", EnvVars: []string{"TINYDB_PATH"}},
					&cli.StringFlag{Name: "host", Value: "localhost", Usage: "Host to bind to", EnvVars: []string{"TINYDB_HOST"}},
					&cli.IntFlag{Name: "port", Value: 8080, Usage: "Port to listen on", EnvVars: []string{"TINYDB_PORT"}},
					&cli.StringFlag{Name: "password", Value: "", Usage: "Database password", EnvVars: []string{"TINYDB_PASSWORD"}},
					&cli.BoolFlag{Name: "cors", Value: true, Usage: "Enable CORS headers"},
					&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Log level: debug, info, warn, error"},
					&cli.BoolFlag{Name: "pretty", Value: true, Usage: "Pretty-print logs for a terminal"},
				},
				Action: runServer,
			},
			{
				Name:  "stats",
				Usage: "Print database statistics and exit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Value: "tinydb.db", Usage: "Database file path"},
					&cli.StringFlag{Name: "password", Value: "", Usage: "Database password"},
				},
				Action: showStats,
			},
			{
				Name:  "compact",
				Usage: "Compact every collection in the database and exit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Value: "tinydb.db", Usage: "Database file path"},
					&cli.StringFlag{Name: "password", Value: "", Usage: "Database password"},
				},
				Action: runCompact,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openEngine(c *cli.Context, log *logger.Logger, met *metrics.Metrics) (*engine.Engine, error) {
	opts := engine.Options{
		EnableJournaling: true,
		DatabaseName:     c.String("db"),
		Password:         c.String("password"),
		Logger:           log,
		Metrics:          met,
	}
	return engine.Open(c.String("db"), opts)
}

func runServer(c *cli.Context) error {
	logger.InitGlobalLogger(logger.Config{Level: c.String("log-level"), Pretty: c.Bool("pretty")})
	log := logger.GetGlobalLogger()
	met := metrics.NewMetrics()

	e, err := openEngine(c, log, met)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer e.Close()

	srv := httpapi.NewServer(e, httpapi.Config{
		Host: c.String("host"),
		Port: c.Int("port"),
		CORS: c.Bool("cors"),
	}, log, met)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func showStats(c *cli.Context) error {
	e, err := openEngine(c, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer e.Close()

	stats, err := e.Statistics()
	if err != nil {
		return err
	}
	fmt.Printf("collections: %d\n", stats.CollectionCount)
	fmt.Printf("pages: total=%d used=%d free=%d\n", stats.TotalPages, stats.UsedPages, stats.FreePages)
	fmt.Printf("cache: hits=%d misses=%d ratio=%.2f cached=%d\n", stats.CacheHits, stats.CacheMisses, stats.CacheHitRatio, stats.CachedPageCount)
	fmt.Printf("active transactions: %d\n", stats.ActiveTransactions)
	for name, n := range stats.CollectionDocs {
		fmt.Printf("  %s: %d documents\n", name, n)
	}
	return nil
}

func runCompact(c *cli.Context) error {
	e, err := openEngine(c, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer e.Close()
	if err := e.Compact(); err != nil {
		return err
	}
	fmt.Println("compacted")
	return nil
}
