package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/middleware"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/execx"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/netutil"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/peer"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/provision"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository/postgres"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/scheduler"
	schedulerjobs "github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/scheduler/jobs"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/service"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/squid"
)

type Config struct {
	App struct {
		Env string `mapstructure:"env"`
	} `mapstructure:"app"`
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Database struct {
		URL         string        `mapstructure:"url"`
		MaxConns    int           `mapstructure:"max_conns"`
		PingTimeout time.Duration `mapstructure:"ping_timeout"`
	} `mapstructure:"database"`
	Log struct {
		Level    string `mapstructure:"level"`
		Encoding string `mapstructure:"encoding"`
	} `mapstructure:"log"`
	Instance struct {
		HostIP string `mapstructure:"host_ip"`
	} `mapstructure:"instance"`
	Cluster struct {
		Secret         string        `mapstructure:"secret"`
		SecretFile     string        `mapstructure:"secret_file"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
		MaxAttempts    int           `mapstructure:"max_attempts"`
		RetryDelay     time.Duration `mapstructure:"retry_delay"`
		Scheme         string        `mapstructure:"scheme"`
	} `mapstructure:"cluster"`
	Admin struct {
		Token           string        `mapstructure:"token"`
		TokenFile       string        `mapstructure:"token_file"`
		RateLimit       int           `mapstructure:"rate_limit"`
		RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	} `mapstructure:"admin"`
	Provision struct {
		Interface string `mapstructure:"interface"`
		IPCommand string `mapstructure:"ip_command"`
	} `mapstructure:"provision"`
	Squid struct {
		AddressFile string `mapstructure:"address_file"`
		Binary      string `mapstructure:"binary"`
		Reload      bool   `mapstructure:"reload"`
	} `mapstructure:"squid"`
	Reconcile struct {
		PackageSyncSpec        string `mapstructure:"package_sync_spec"`
		CancelSubscriptionSpec string `mapstructure:"cancel_subscription_spec"`
		ExpirePackageSpec      string `mapstructure:"expire_package_spec"`
		UserSyncSpec           string `mapstructure:"user_sync_spec"`
		StaleSweepSpec         string `mapstructure:"stale_sweep_spec"`
		PackageExpirySpec      string `mapstructure:"package_expiry_spec"`
	} `mapstructure:"reconcile"`
}

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(runHealthcheck())
		case "migrate":
			if err := runMigrateCommand(); err != nil {
				// #nosec G705 -- CLI output only; control characters are stripped.
				fmt.Fprintln(os.Stderr, sanitizeCLIError(err))
				os.Exit(1)
			}
			return
		case "create-admin":
			if err := runCreateAdminCommand(os.Args[2:]); err != nil {
				// #nosec G705 -- CLI output only; control characters are stripped.
				fmt.Fprintln(os.Stderr, sanitizeCLIError(err))
				os.Exit(1)
			}
			return
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer logger.Sync() //nolint:errcheck

	if !strings.EqualFold(cfg.App.Env, "development") {
		gin.SetMode(gin.ReleaseMode)
	}

	dbPool, err := newDBPool(context.Background(), cfg)
	if err != nil {
		logger.Fatal("connect database failed", zap.Error(err))
	}
	defer dbPool.Close()

	serverRepo := postgres.NewServerRepository(dbPool)
	userRepo := postgres.NewUserRepository(dbPool)
	packageRepo := postgres.NewPackageRepository(dbPool)
	ipRepo := postgres.NewIPRepository(dbPool)
	jobRepo := postgres.NewJobRepository(dbPool)
	syncRepo := postgres.NewSyncRepository(dbPool)

	runner := execx.NewOSRunner()
	inspector := netutil.NewHostInspector()
	provisioner := provision.NewIPProvisioner(runner, provision.Config{
		IPCommand:        cfg.Provision.IPCommand,
		DefaultInterface: cfg.Provision.Interface,
	}, logger)
	configWriter, err := squid.NewConfigWriter(runner, squid.Config{
		AddressFile: cfg.Squid.AddressFile,
		Binary:      cfg.Squid.Binary,
		Reload:      cfg.Squid.Reload,
	}, logger)
	if err != nil {
		logger.Fatal("init squid config writer failed", zap.Error(err))
	}

	secret := []byte(cfg.Cluster.Secret)
	peerClient := peer.NewClient(peer.Config{
		HostIP:      cfg.Instance.HostIP,
		Secret:      secret,
		Timeout:     cfg.Cluster.RequestTimeout,
		MaxAttempts: cfg.Cluster.MaxAttempts,
		RetryDelay:  cfg.Cluster.RetryDelay,
		Scheme:      cfg.Cluster.Scheme,
	}, logger)

	resolver := service.NewInstanceResolver(serverRepo, inspector, cfg.Instance.HostIP)
	packageSvc := service.NewPackageService(packageRepo, userRepo, logger)
	userSvc := service.NewUserService(userRepo, logger)
	jobSvc := service.NewJobService(jobRepo, ipRepo, inspector, provisioner, configWriter, logger)
	ipSvc := service.NewIPService(resolver, ipRepo, jobSvc, peerClient, logger)

	packageReplicator := service.NewPackageReplicator(serverRepo, packageSvc, peerClient, cfg.Instance.HostIP, logger)
	userReplicator := service.NewUserReplicator(serverRepo, userSvc, peerClient, cfg.Instance.HostIP, logger)
	serverReplicator := service.NewServerReplicator(serverRepo, resolver, inspector, peerClient, logger)
	syncSvc := service.NewSyncService(syncRepo, packageReplicator, userReplicator, logger)

	cronRunner := scheduler.NewScheduler(scheduler.Specs{
		PackageSync:        cfg.Reconcile.PackageSyncSpec,
		CancelSubscription: cfg.Reconcile.CancelSubscriptionSpec,
		ExpirePackage:      cfg.Reconcile.ExpirePackageSpec,
		UserSync:           cfg.Reconcile.UserSyncSpec,
		StaleSweep:         cfg.Reconcile.StaleSweepSpec,
		PackageExpiry:      cfg.Reconcile.PackageExpirySpec,
	}, scheduler.Deps{
		SyncJob:   schedulerjobs.NewSyncJob(syncSvc, logger),
		ExpiryJob: schedulerjobs.NewPackageExpiryJob(packageReplicator, logger),
	}, logger)
	cronRunner.Start()
	defer func() {
		stopCtx := cronRunner.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(2 * time.Second):
		}
	}()

	router := api.NewRouter(logger)
	api.RegisterSystemRoutes(router, dbPool)
	api.RegisterClusterRoutes(router, secret, api.ClusterServices{
		Packages: packageSvc,
		Users:    userSvc,
		Servers:  serverReplicator,
		IPs:      ipSvc,
	})
	api.RegisterAdminRoutes(router, cfg.Admin.Token, middleware.NewRateLimiter(cfg.Admin.RateLimit, cfg.Admin.RateLimitWindow), api.AdminServices{
		Packages: packageReplicator,
		Users:    userReplicator,
		Servers:  serverReplicator,
		IPs:      ipSvc,
		Jobs:     jobSvc,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	logger.Info("server started",
		zap.String("addr", srv.Addr),
		zap.String("host_ip", cfg.Instance.HostIP),
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_time", BuildTime),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			logger.Fatal("server exited unexpectedly", zap.Error(err))
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown server failed", zap.Error(err))
	}

	jobsDone := make(chan struct{})
	go func() {
		jobSvc.Wait()
		close(jobsDone)
	}()
	select {
	case <-jobsDone:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown before in-flight jobs finished")
	}
}

func loadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SQUIDHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", "SQUIDHUB_DATABASE_URL", "DATABASE_URL")

	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.ping_timeout", "3s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("instance.host_ip", "")
	v.SetDefault("cluster.secret", "")
	v.SetDefault("cluster.secret_file", "")
	v.SetDefault("cluster.request_timeout", "0s")
	v.SetDefault("cluster.max_attempts", 3)
	v.SetDefault("cluster.retry_delay", "200ms")
	v.SetDefault("cluster.scheme", "http")
	v.SetDefault("admin.token", "")
	v.SetDefault("admin.token_file", "")
	v.SetDefault("admin.rate_limit", 120)
	v.SetDefault("admin.rate_limit_window", "1m")
	v.SetDefault("provision.interface", "eth0")
	v.SetDefault("provision.ip_command", "ip")
	v.SetDefault("squid.address_file", "/etc/squid/conf.d/outgoing.conf")
	v.SetDefault("squid.binary", "squid")
	v.SetDefault("squid.reload", true)
	v.SetDefault("reconcile.package_sync_spec", scheduler.DefaultPackageSyncSpec)
	v.SetDefault("reconcile.cancel_subscription_spec", scheduler.DefaultCancelSubscriptionSpec)
	v.SetDefault("reconcile.expire_package_spec", scheduler.DefaultExpirePackageSpec)
	v.SetDefault("reconcile.user_sync_spec", scheduler.DefaultUserSyncSpec)
	v.SetDefault("reconcile.stale_sweep_spec", scheduler.DefaultStaleSweepSpec)
	v.SetDefault("reconcile.package_expiry_spec", scheduler.DefaultPackageExpirySpec)

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) {
			return Config{}, fmt.Errorf("read config file failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config failed: %w", err)
	}

	secret, err := readSecret(cfg.Cluster.Secret, cfg.Cluster.SecretFile, "cluster.secret_file")
	if err != nil {
		return Config{}, err
	}
	cfg.Cluster.Secret = secret

	token, err := readSecret(cfg.Admin.Token, cfg.Admin.TokenFile, "admin.token_file")
	if err != nil {
		return Config{}, err
	}
	cfg.Admin.Token = token

	cfg.Instance.HostIP = strings.TrimSpace(cfg.Instance.HostIP)

	if cfg.Database.URL == "" {
		return Config{}, errors.New("database.url is required")
	}
	if cfg.Database.MaxConns <= 0 {
		return Config{}, errors.New("database.max_conns must be greater than 0")
	}
	if cfg.Database.PingTimeout <= 0 {
		return Config{}, errors.New("database.ping_timeout must be greater than 0")
	}
	if cfg.Instance.HostIP == "" {
		return Config{}, errors.New("instance.host_ip is required")
	}
	if cfg.Cluster.Secret == "" {
		return Config{}, errors.New("cluster.secret is required")
	}
	if cfg.Cluster.RequestTimeout < 0 {
		return Config{}, errors.New("cluster.request_timeout must not be negative")
	}

	return cfg, nil
}

func readSecret(value, path, key string) (string, error) {
	value = strings.TrimSpace(value)
	path = strings.TrimSpace(path)
	if value != "" || path == "" {
		return value, nil
	}

	// #nosec G304 -- path is provided by operator config.
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s failed: %w", key, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func newLogger(cfg Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if strings.EqualFold(cfg.App.Env, "development") {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	if cfg.Log.Level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			return nil, fmt.Errorf("invalid log.level: %w", err)
		}
	}

	if cfg.Log.Encoding != "" {
		zapCfg.Encoding = cfg.Log.Encoding
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger failed: %w", err)
	}
	return logger, nil
}

func newDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database.url failed: %w", err)
	}

	const maxInt32 = int(^uint32(0) >> 1)
	if cfg.Database.MaxConns > maxInt32 {
		return nil, fmt.Errorf("database.max_conns must be <= %d", maxInt32)
	}

	poolCfg.MaxConns = int32(cfg.Database.MaxConns) // #nosec G115 -- validated upper bound above.

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.PingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database failed: %w", err)
	}

	return pool, nil
}

func runMigrateCommand() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	migrationDir := "/migrations"
	if _, statErr := os.Stat(migrationDir); statErr != nil {
		migrationDir = "./migrations"
	}

	if err := runMigrateUp("file://"+migrationDir, cfg.Database.URL); err != nil {
		return err
	}

	fmt.Println("migrations applied successfully")
	return nil
}

func runMigrateUp(sourceURL, databaseURL string) error {
	migrator, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer migrator.Close() //nolint:errcheck

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations failed: %w", err)
	}
	return nil
}

// runCreateAdminCommand seeds an admin on this node only. Accounts created
// through the admin API are replicated instead.
func runCreateAdminCommand(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var username string
	var password string

	fs.StringVar(&username, "username", "admin", "admin username")
	fs.StringVar(&password, "password", "", "admin password")

	if err := fs.Parse(args); err != nil {
		return err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parse database config failed: %w", err)
	}
	poolCfg.MaxConns = 2

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect database failed: %w", err)
	}
	defer pool.Close()

	userSvc := service.NewUserService(postgres.NewUserRepository(pool), nil)
	user, err := userSvc.AddAdmin(ctx, username, password)
	if errors.Is(err, service.ErrConflict) {
		fmt.Printf("admin user '%s' already exists, skip\n", strings.TrimSpace(username))
		return nil
	}
	if err != nil {
		return fmt.Errorf("create admin failed: %w", err)
	}

	fmt.Printf("admin user '%s' created successfully\n", user.Username)
	return nil
}

func runHealthcheck() int {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	port := strings.TrimSpace(os.Getenv("SQUIDHUB_SERVER_PORT"))
	if port == "" {
		port = "8080"
	}

	resp, err := client.Get("http://localhost:" + port + "/readyz")
	if err != nil {
		return 1
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func sanitizeCLIError(err error) string {
	if err == nil {
		return ""
	}

	text := strings.ReplaceAll(err.Error(), "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(text)
}
