package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/watchads/rewardd/internal/httpapi"
	"github.com/watchads/rewardd/internal/store/gormstore"
	"github.com/watchads/rewardd/internal/store/pgstore"
	"github.com/watchads/rewardd/pkg/rewards"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagCooldownSec    = "reward-cooldown-sec"
	flagReferralRate   = "referral-rate"
	flagMinWithdraw    = "min-withdraw"
	flagDefaultReward  = "default-reward"
	flagAllowedOrigins = "allowed-origins"
	flagStoreBackend   = "store-backend"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyCooldownSec    = "reward_cooldown_sec"
	configKeyReferralRate   = "referral_rate"
	configKeyMinWithdraw    = "min_withdraw"
	configKeyDefaultReward  = "default_reward"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyStoreBackend   = "store_backend"

	defaultDatabaseURL   = "sqlite:///tmp/rewardd.db"
	defaultListenAddr    = ":8080"
	defaultCooldownSec   = 16
	defaultReferralRate  = 0.10
	defaultMinWithdraw   = 1.0
	defaultDefaultRwd    = 0.003
	defaultOriginsRaw    = "http://localhost:8000"
	driverNamePostgres   = "postgres"
	driverNameSQLite     = "sqlite"
	storeBackendPgx      = "pgx"
	storeBackendGorm     = "gorm"
	sqliteFallbackDBPath = "rewardd.db"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	CooldownSec    int64
	ReferralRate   float64
	MinWithdraw    float64
	DefaultReward  float64
	AllowedOrigins []string
	StoreBackend   string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rewardd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "rewardd",
		Short:         "Watch-to-earn rewards HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().Int64(flagCooldownSec, defaultCooldownSec, "Minimum seconds between reward claims per user")
	cmd.Flags().Float64(flagReferralRate, defaultReferralRate, "Referral commission rate in [0,1)")
	cmd.Flags().Float64(flagMinWithdraw, defaultMinWithdraw, "Minimum withdrawal amount")
	cmd.Flags().Float64(flagDefaultReward, defaultDefaultRwd, "Reward credited when no amount or ad is given")
	cmd.Flags().String(flagAllowedOrigins, defaultOriginsRaw, "Comma-delimited CORS origins")
	cmd.Flags().String(flagStoreBackend, storeBackendPgx, "Postgres store backend: pgx or gorm")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	_ = godotenv.Load()

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyCooldownSec:    "REWARD_COOLDOWN_SEC",
		configKeyReferralRate:   "REFERRAL_RATE",
		configKeyMinWithdraw:    "MIN_WITHDRAW",
		configKeyDefaultReward:  "DEFAULT_REWARD",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyStoreBackend:   "STORE_BACKEND",
	}
	for key, envName := range envBindings {
		if err := viper.BindEnv(key, envName); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyCooldownSec:    flagCooldownSec,
		configKeyReferralRate:   flagReferralRate,
		configKeyMinWithdraw:    flagMinWithdraw,
		configKeyDefaultReward:  flagDefaultReward,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyStoreBackend:   flagStoreBackend,
	}
	for key, flagName := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.CooldownSec = viper.GetInt64(configKeyCooldownSec)
	if cfg.CooldownSec <= 0 {
		cfg.CooldownSec = defaultCooldownSec
	}
	cfg.ReferralRate = viper.GetFloat64(configKeyReferralRate)
	cfg.MinWithdraw = viper.GetFloat64(configKeyMinWithdraw)
	if cfg.MinWithdraw <= 0 {
		cfg.MinWithdraw = defaultMinWithdraw
	}
	cfg.DefaultReward = viper.GetFloat64(configKeyDefaultReward)
	if cfg.DefaultReward <= 0 {
		cfg.DefaultReward = defaultDefaultRwd
	}
	cfg.AllowedOrigins = httpapi.ParseAllowedOrigins(viper.GetString(configKeyAllowedOrigins))
	cfg.StoreBackend = viper.GetString(configKeyStoreBackend)
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = storeBackendPgx
	}
	if cfg.StoreBackend != storeBackendPgx && cfg.StoreBackend != storeBackendGorm {
		return fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	serviceConfig, err := buildServiceConfig(cfg)
	if err != nil {
		return fmt.Errorf("service config: %w", err)
	}

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	clock := func() time.Time { return time.Now().UTC() }
	service, err := rewards.NewService(store, clock, serviceConfig,
		rewards.WithOperationLogger(&zapOperationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("rewards service init: %w", err)
	}

	httpConfig := httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if err := httpConfig.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	return httpapi.Run(ctx, httpConfig, service, logger)
}

func buildServiceConfig(cfg *runtimeConfig) (rewards.Config, error) {
	rate, err := rewards.NewReferralRate(decimal.NewFromFloat(cfg.ReferralRate))
	if err != nil {
		return rewards.Config{}, err
	}
	minWithdraw, err := rewards.NewAmountFromFloat(cfg.MinWithdraw)
	if err != nil {
		return rewards.Config{}, err
	}
	defaultReward, err := rewards.NewAmountFromFloat(cfg.DefaultReward)
	if err != nil {
		return rewards.Config{}, err
	}
	return rewards.Config{
		ClaimCooldown: time.Duration(cfg.CooldownSec) * time.Second,
		ReferralRate:  rate,
		MinWithdraw:   minWithdraw,
		DefaultReward: defaultReward,
	}, nil
}

// openStore opens the database named by cfg.DatabaseURL and returns the
// matching rewards.Store. Postgres defaults to the pgx raw-SQL store and can
// be switched to the GORM store; sqlite always goes through GORM.
func openStore(ctx context.Context, cfg *runtimeConfig) (rewards.Store, func(), error) {
	driver, sqlitePath, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	switch driver {
	case driverNamePostgres:
		if cfg.StoreBackend == storeBackendGorm {
			return openGormStore(ctx, postgres.Open(cfg.DatabaseURL))
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := pgstore.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() { pool.Close() }, nil
	case driverNameSQLite:
		return openGormStore(ctx, sqlite.Open(sqlitePath))
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
}

func openGormStore(ctx context.Context, dialector gorm.Dialector) (rewards.Store, func(), error) {
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	if err := gormstore.Migrate(gormDB); err != nil {
		return nil, nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = sqlDB.Close() }
	return gormstore.New(gormDB.WithContext(ctx)), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverNamePostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = sqliteFallbackDBPath
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverNameSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverNameSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// zapOperationLogger adapts zap to the rewards operation log hook.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(_ context.Context, entry rewards.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.Int64("user_id", entry.UserID.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.AdID != nil {
		fields = append(fields, zap.Int64("ad_id", entry.AdID.Int64()))
	}
	if !entry.Amount.Decimal().IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.SecondsLeft > 0 {
		fields = append(fields, zap.Int64("seconds_left", entry.SecondsLeft))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	operationLogger.logger.Info("reward operation", fields...)
}
