package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/kiosktrust/internal/envelope"
	"github.com/jmerrifield20/kiosktrust/internal/handler"
	"github.com/jmerrifield20/kiosktrust/internal/identity"
	"github.com/jmerrifield20/kiosktrust/internal/ledger"
	"github.com/jmerrifield20/kiosktrust/internal/notify"
	"github.com/jmerrifield20/kiosktrust/internal/otp"
	"github.com/jmerrifield20/kiosktrust/internal/platform/redisclient"
	"github.com/jmerrifield20/kiosktrust/internal/ratelimit"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("kioskd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("kioskd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.debug", false)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("database.url", "")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.required", false)
	viper.SetDefault("crypto.master_secret", "")
	viper.SetDefault("crypto.salt", envelope.LegacySalt)
	viper.SetDefault("crypto.iterations", envelope.LegacyIterations)
	viper.SetDefault("ratelimit.requests_per_minute", 100)
	viper.SetDefault("otp.length", otp.DefaultLength)
	viper.SetDefault("otp.ttl_seconds", int(otp.DefaultTTL.Seconds()))
	viper.SetDefault("otp.max_attempts", otp.DefaultMaxAttempts)
	viper.SetDefault("ledger.lock_timeout", ledger.DefaultLockTimeout.String())
	viper.SetDefault("session.secret", "")
	viper.SetDefault("session.access_ttl", "30m")
	viper.SetDefault("sms.rate_per_second", 5.0)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	debug := viper.GetBool("server.debug")
	startCtx := context.Background()

	// ── Redis (optional) ─────────────────────────────────────────────────────
	rdb, err := connectRedis(startCtx, redisclient.Config{
		URL:         viper.GetString("redis.url"),
		PoolSize:    viper.GetInt("redis.pool_size"),
		DialTimeout: viper.GetDuration("redis.dial_timeout"),
	}, viper.GetBool("redis.required"), logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close() //nolint:errcheck
		logger.Info("connected to redis")
	}

	checks := map[string]handler.Pinger{}

	// ── Ledger ───────────────────────────────────────────────────────────────
	lockTimeout := viper.GetDuration("ledger.lock_timeout")
	var store ledger.Store
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(startCtx, dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(startCtx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		store = ledger.NewPostgresStore(db, lockTimeout, logger)
		checks["postgres"] = handler.PingFunc(db.Ping)
	} else {
		logger.Warn("database.url not set, ledger is in memory and will not survive a restart")
		store = ledger.NewMemoryStore(lockTimeout)
	}

	chain := ledger.New(store, logger)
	chain.SetMetricsRecord(handler.RecordLedgerAppend)
	audit := ledger.NewAuditTrail(chain)

	if err := audit.Verify(startCtx); err != nil {
		logger.Warn("audit chain integrity check FAILED", zap.Error(err))
	} else {
		tail, _ := chain.Tail(startCtx, ledger.AuditChainKey)
		logger.Info("audit chain verified",
			zap.Int64("entries", tail.Seq),
			zap.String("tip", tail.ContentHash),
		)
	}

	// ── Crypto envelope ──────────────────────────────────────────────────────
	masterSecret := viper.GetString("crypto.master_secret")
	if masterSecret == "" {
		if !debug {
			return errors.New("crypto.master_secret is required")
		}
		masterSecret = "development-only-master-secret"
		logger.Warn("crypto.master_secret not set, using a development secret")
	}
	root, err := envelope.New(masterSecret, envelope.Options{
		Salt:       viper.GetString("crypto.salt"),
		Iterations: viper.GetInt("crypto.iterations"),
	})
	if err != nil {
		return fmt.Errorf("crypto envelope: %w", err)
	}
	mobileEnvelope, err := root.ForField("mobile")
	if err != nil {
		return fmt.Errorf("derive mobile key: %w", err)
	}

	// ── Sessions ─────────────────────────────────────────────────────────────
	sessionSecret := viper.GetString("session.secret")
	if sessionSecret == "" && debug {
		sessionSecret = masterSecret + "-session-development-only"
	}
	sessions, err := identity.NewSessionIssuer(sessionSecret, "kioskd", viper.GetDuration("session.access_ttl"), 0)
	if err != nil {
		return fmt.Errorf("session issuer: %w", err)
	}

	// ── Rate limiting and OTP stores ─────────────────────────────────────────
	// The backend is chosen once here; nothing switches strategy at runtime.
	bg, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	var (
		limitStore ratelimit.Store
		otpStore   otp.Store
	)
	if rdb != nil {
		limitStore = ratelimit.NewRedisStore(rdb.Client)
		otpStore = otp.NewRedisStore(rdb.Client)
		checks["redis"] = handler.PingFunc(rdb.Health)
	} else {
		logger.Warn("redis unavailable, rate limits and OTPs are per-process and non-authoritative")
		mem := ratelimit.NewMemoryStore()
		go mem.RunSweeper(bg, time.Minute)
		limitStore = mem

		otpMem := otp.NewMemoryStore()
		go otpMem.RunEvictor(bg, time.Minute)
		otpStore = otpMem
	}

	limiter := ratelimit.NewLimiter(limitStore, logger)
	limiter.SetMetricsRecord(handler.RecordRateLimit)

	sms := notify.NewThrottled(notify.NewNoopSender(logger, debug), viper.GetFloat64("sms.rate_per_second"), 1)
	otpSvc := otp.NewService(otpStore, sms, limiter, otp.Config{
		Length:      viper.GetInt("otp.length"),
		TTL:         time.Duration(viper.GetInt("otp.ttl_seconds")) * time.Second,
		MaxAttempts: viper.GetInt("otp.max_attempts"),
		Debug:       debug,
	}, logger)
	otpSvc.SetMetricsRecord(handler.RecordOTPEvent)

	// ── Handlers ─────────────────────────────────────────────────────────────
	authHandler := handler.NewAuthHandler(otpSvc, sessions, audit, logger)
	authHandler.SetEnvelope(mobileEnvelope)
	ledgerHandler := handler.NewLedgerHandler(chain, logger)
	paymentHandler := handler.NewPaymentHandler(chain, logger)
	healthHandler := handler.NewHealthHandler(checks, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS
	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	if rpm := viper.GetInt("ratelimit.requests_per_minute"); rpm > 0 {
		router.Use(ratelimit.Middleware(limiter, ratelimit.MiddlewareConfig{
			Limit:       rpm,
			Window:      time.Minute,
			ExemptPaths: []string{"/healthz", "/metrics"},
		}))
	}

	router.GET("/healthz", healthHandler.Health)
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	authHandler.Register(v1)
	ledgerHandler.Register(v1, identity.RequireSession(sessions, string(ledger.ActorAdmin)))
	paymentHandler.Register(v1, identity.RequireSession(sessions))

	httpPort := viper.GetInt("server.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("kioskd HTTP listening", zap.Int("port", httpPort), zap.Bool("debug", debug))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down kioskd...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("kioskd stopped")
	return nil
}

// connectRedis returns nil, nil when Redis is not configured, or when it is
// configured but unreachable and not required. The caller then uses the
// in-process stores for the life of the process. A malformed URL is always
// an error.
func connectRedis(ctx context.Context, cfg redisclient.Config, required bool, logger *zap.Logger) (*redisclient.Client, error) {
	rdb, err := redisclient.New(ctx, cfg)
	switch {
	case err == nil:
		return rdb, nil
	case required, errors.Is(err, redisclient.ErrInvalidURL):
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Warn("redis unreachable, falling back to in-process stores", zap.Error(err))
	return nil, nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
// Query strings are omitted since receipt lookups carry the subject there.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
