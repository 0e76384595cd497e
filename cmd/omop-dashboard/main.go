package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/omop/dashboard/internal/config"
	"github.com/omop/dashboard/internal/dashboard"
	"github.com/omop/dashboard/internal/platform/analytics"
	"github.com/omop/dashboard/internal/platform/db"
	"github.com/omop/dashboard/internal/platform/middleware"
	"github.com/omop/dashboard/internal/platform/reporting"
	"github.com/omop/dashboard/internal/query"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "omop-dashboard",
		Short: "OMOP CDM analytics dashboard",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(listCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [id]",
		Short: "Run one operation, or all of them, and print the rows as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			if len(args) == 1 {
				ids = args
			}
			return runQuery(cmd.Context(), cmd.OutOrStdout(), ids)
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listOperations(cmd.OutOrStdout(), query.DefaultCatalog())
		},
	}
}

// newLogger writes human-readable lines in development and JSON otherwise.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// backend is an opened database behind both the query store and the health
// endpoint.
type backend struct {
	store  query.Store
	health db.HealthCheck
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.DBDriver {
	case config.DriverPQ:
		conn, err := db.OpenSQL(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:  query.NewSQLStore(conn),
			health: db.SQLHealthCheck(conn),
			close:  func() { conn.Close() },
		}, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:  query.NewPGStore(pool),
			health: db.PGXHealthCheck(pool),
			close:  pool.Close,
		}, nil
	}
}

func newManager(cfg *config.Config, store query.Store, tracker *analytics.QueryTracker, logger zerolog.Logger) *query.Manager {
	return query.NewManager(store, logger,
		query.WithCacheTTL(cfg.CacheTTL),
		query.WithTimeout(cfg.QueryTimeout),
		query.WithRecorder(tracker),
	)
}

// newServer wires every route onto a fresh echo instance.
func newServer(cfg *config.Config, mgr *query.Manager, tracker *analytics.QueryTracker, health db.HealthCheck, logger zerolog.Logger) (*echo.Echo, error) {
	html, err := dashboard.NewHTMLRenderer()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	// Recovery sits inside the timeout so it runs on the handler goroutine.
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.Recovery(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(health))

	apiV1 := e.Group("/api/v1")

	board := dashboard.New(mgr, logger)
	reports := reporting.NewHandler(mgr, board, html, logger)
	reports.RegisterRoutes(apiV1, middleware.RateLimit(middleware.InvalidateRateLimit()))
	reports.RegisterHTMLRoutes(e)

	analytics.NewHandler(tracker).RegisterRoutes(apiV1)

	return e, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		logger := newLogger(&config.Config{Env: os.Getenv("ENV")}, os.Stdout)
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to connect to database")
	}
	defer be.close()
	logger.Info().Str("driver", cfg.DBDriver).Msg("connected to database")

	tracker := analytics.NewQueryTracker()
	mgr := newManager(cfg, be.store, tracker, logger)
	if cfg.CacheTTL > 0 {
		mgr.StartCacheCleanup(ctx, cfg.CacheTTL)
	}

	e, err := newServer(cfg, mgr, tracker, be.health, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Dur("cache_ttl", cfg.CacheTTL).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// queryReport is what the query command prints per operation.
type queryReport struct {
	Operation string      `json:"operation"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Duration  string      `json:"duration"`
	Columns   []string    `json:"columns"`
	Rows      []query.Row `json:"rows"`
}

func runQuery(ctx context.Context, out io.Writer, ids []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Logs go to stderr so stdout stays valid JSON.
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer be.close()

	mgr := newManager(cfg, be.store, analytics.NewQueryTracker(), logger)
	return printQueries(ctx, out, mgr, ids)
}

func printQueries(ctx context.Context, out io.Writer, mgr *query.Manager, ids []string) error {
	if len(ids) == 0 {
		for _, op := range mgr.Catalog().Operations() {
			ids = append(ids, op.ID)
		}
	}

	reports := make([]queryReport, 0, len(ids))
	for _, id := range ids {
		o, err := mgr.Run(ctx, id)
		if err != nil {
			return err
		}
		r := queryReport{
			Operation: id,
			Status:    reporting.StatusOK,
			Duration:  o.Duration.String(),
			Columns:   o.Result.Columns,
			Rows:      o.Rows().Rows,
		}
		if !o.OK() {
			r.Status = reporting.StatusError
			r.Error = o.Err.Error()
		}
		reports = append(reports, r)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if len(reports) == 1 {
		return enc.Encode(reports[0])
	}
	return enc.Encode(reports)
}

func listOperations(out io.Writer, cat *query.Catalog) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCOLUMNS")
	for _, op := range cat.Operations() {
		fmt.Fprintf(w, "%s\t%s\t%d\n", op.ID, op.Name, len(op.Columns))
	}
	return w.Flush()
}
