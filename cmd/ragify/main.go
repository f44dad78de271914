package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sumitnemade/ragify-go/pkg/config"
	"github.com/sumitnemade/ragify-go/pkg/observability"
	"github.com/sumitnemade/ragify-go/pkg/pool"
	"github.com/sumitnemade/ragify-go/pkg/source"
	"github.com/sumitnemade/ragify-go/pkg/source/api"
	"github.com/sumitnemade/ragify-go/pkg/source/database"
	"github.com/sumitnemade/ragify-go/pkg/source/realtime"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "ragify",
		Short: "Ragify - resilient context retrieval for RAG pipelines",
		Long: `Ragify retrieves context windows from databases, APIs, and realtime stores
through a resilience layer: pooled connections, parallel batched queries,
TTL-cached responses, and adaptive rate limiting.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Ragify v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configFile, query string
	var limit, offset int
	var filters []string
	var showStats bool
	var fetchTimeout time.Duration

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a context window from the configured source",
		Long: `Fetch runs one windowed query through the full resilience stack and
prints the resulting rows as JSON.

Example:
  ragify fetch --config source.yaml --query "SELECT * FROM documents" --limit 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(configFile, query, filters, limit, offset, fetchTimeout, showStats)
		},
	}

	fetchCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to source configuration YAML file (required)")
	fetchCmd.Flags().StringVarP(&query, "query", "q", "", "Query to execute: SQL for database sources, endpoint query for api, list key for realtime (required)")
	_ = fetchCmd.MarkFlagRequired("config")
	_ = fetchCmd.MarkFlagRequired("query")

	fetchCmd.Flags().IntVar(&limit, "limit", 100, "Number of rows to fetch")
	fetchCmd.Flags().IntVar(&offset, "offset", 0, "Row offset to start the window at")
	fetchCmd.Flags().StringArrayVar(&filters, "filter", nil, "Equality filter as key=value (repeatable)")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 5*time.Minute, "Overall fetch timeout")
	fetchCmd.Flags().BoolVar(&showStats, "stats", false, "Print pool/cache/limiter statistics after the fetch")
	root.AddCommand(fetchCmd)

	var validateFile string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a source configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(validateFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			fmt.Printf("%s: configuration valid (source %q, type %s)\n", validateFile, cfg.Name, cfg.Type)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&validateFile, "config", "c", "", "Path to configuration YAML file (required)")
	_ = validateCmd.MarkFlagRequired("config")
	root.AddCommand(validateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads a YAML source configuration on top of the defaults, so
// files only need to state what differs.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.NewDefaultConfig("", "")
	if err := config.Load(path, cfg); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func runFetch(configFile, query string, rawFilters []string, limit, offset int, timeout time.Duration, showStats bool) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	if err := observability.Init(cfg.Logging); err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = observability.Sync() }()
	log := observability.GetLogger().With(zap.String("source", cfg.Name))

	filters, err := parseFilters(rawFilters)
	if err != nil {
		return err
	}

	driver, err := driverFor(cfg)
	if err != nil {
		return err
	}

	src, err := source.New(cfg, driver, log)
	if err != nil {
		return fmt.Errorf("source init failed: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn("source close failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := src.Fetch(ctx, source.Request{
		Query:   query,
		Filters: filters,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	log.Info("fetch completed",
		zap.Int("rows", len(res.Rows)),
		zap.Int("queries_executed", res.QueriesExecuted),
		zap.Duration("query_time", res.QueryTime))

	out := gojson.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(res.Rows); err != nil {
		return fmt.Errorf("encoding result failed: %w", err)
	}

	if showStats {
		if err := out.Encode(src.Stats()); err != nil {
			return fmt.Errorf("encoding stats failed: %w", err)
		}
	}
	return nil
}

// driverFor selects the backend adapter from the configured source type.
func driverFor(cfg *config.Config) (pool.Driver, error) {
	switch cfg.Type {
	case "database", "postgres":
		return database.NewDriver(), nil
	case "api":
		return api.NewDriver(cfg.Backend), nil
	case "realtime", "redis":
		return realtime.NewDriver(cfg.Backend), nil
	default:
		return nil, fmt.Errorf("unknown source type %q (expected database, api, or realtime)", cfg.Type)
	}
}

// parseFilters turns repeated key=value flags into an equality filter map.
func parseFilters(raw []string) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(map[string]interface{}, len(raw))
	for _, f := range raw {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q (expected key=value)", f)
		}
		filters[k] = v
	}
	return filters, nil
}
