// Package main is the entry point for the Orion console server binary.
// Subcommands (serve, migrate, createuser, listusers, version) are dispatched
// on os.Args[1]. serve applies pending migrations before it starts listening.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/orion-pds/orion/internal/accounts"
	"github.com/orion-pds/orion/internal/api"
	"github.com/orion-pds/orion/internal/audit"
	"github.com/orion-pds/orion/internal/auth"
	"github.com/orion-pds/orion/internal/cache"
	"github.com/orion-pds/orion/internal/config"
	"github.com/orion-pds/orion/internal/db"
	"github.com/orion-pds/orion/internal/db/models"
	"github.com/orion-pds/orion/internal/db/repositories"
	"github.com/orion-pds/orion/internal/pds"
	"github.com/orion-pds/orion/internal/telemetry"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command == "version" {
		fmt.Printf("Orion v%s\n", version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "createuser":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s createuser <username>", os.Args[0])
		}
		return createUser(cfg, os.Args[2])
	case "listusers":
		return listUsers(cfg)
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, createuser, listusers, version", command)
	}
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	secret, err := auth.ResolveSessionSecret()
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(ctx, database)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	// Redis is optional: without it revocations and rate limits stay in-process.
	redisClient, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	var revocations auth.RevocationList = auth.NewMemoryRevocationList()
	deps := api.Dependencies{DB: database}
	if redisClient != nil {
		defer redisClient.Close()
		revocations = auth.NewRedisRevocationList(redisClient)
		deps.Redis = redisClient
		slog.Info("redis enabled for session revocation and rate limiting")
	}

	shippers, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return fmt.Errorf("failed to configure audit shippers: %w", err)
	}
	defer shippers.Close()
	var shipper audit.Shipper
	if shippers.Len() > 0 {
		shipper = shippers
	}

	userRepo := repositories.NewUserRepository(database)
	auditRepo := repositories.NewAuditRepository(sqlx.NewDb(database, "postgres"))
	trail := audit.NewTrail(auditRepo, shipper)

	pdsClient := pds.NewClient(cfg.PDS)
	aggregator := accounts.NewAggregator(pdsClient, cfg.PDS.BatchSize, cfg.PDS.MaxConcurrentBatches)
	dispatcher := accounts.NewDispatcher(accounts.NewRegistry(pdsClient), pdsClient, trail)

	deps.Authenticator = auth.NewAuthenticator(userRepo)
	deps.Sessions = auth.NewSessionManager(secret, cfg.Auth.SessionTTL, revocations)
	deps.Audit = trail
	deps.PDS = pdsClient
	deps.Accounts = aggregator
	deps.Dispatcher = dispatcher

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Telemetry.Metrics.PrometheusPort)
	}

	router, bgServices := api.NewRouter(cfg, deps)
	server := &http.Server{
		Addr:              cfg.Server.GetAddress(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "pds", cfg.PDS.Hostname, "tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		bgServices.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()
	slog.Info("server stopped gracefully")
	return nil
}

// startMetricsServer serves /metrics on a dedicated port so the scrape path is
// not reachable through the console's public listener.
func startMetricsServer(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting Prometheus metrics server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(context.Background(), &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", v, "dirty", dirty)
	return nil
}

// createUser adds an operator account. The password is read from the
// terminal without echo, or from the first line of stdin when piped.
func createUser(cfg *config.Config, username string) error {
	password, err := readNewPassword(username)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	user := &models.User{Username: username, PasswordHash: hash, IsActive: true}
	if err := repositories.NewUserRepository(database).CreateUser(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrUserExists) {
			return fmt.Errorf("user %q already exists", username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Printf("Created user %s (%s)\n", user.Username, user.ID)
	return nil
}

func listUsers(cfg *config.Config) error {
	ctx := context.Background()
	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	users, err := repositories.NewUserRepository(database).ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		lastLogin := "never"
		if u.LastLoginAt != nil {
			lastLogin = u.LastLoginAt.Format(time.RFC3339)
		}
		fmt.Printf("%-24s active=%-5t last_login=%s\n", u.Username, u.IsActive, lastLogin)
	}
	return nil
}

func readNewPassword(username string) (string, error) {
	fd := int(os.Stdin.Fd()) // #nosec G115 -- file descriptors fit in int
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		return password, auth.ValidateNewPassword(username, password)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Password (again): ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), auth.ValidateNewPassword(username, string(first))
}
