package main

import (
	"context"
	"time"

	"github.com/vinugawade/sender.net/internal/handlers"
	"github.com/vinugawade/sender.net/internal/messenger"
	"github.com/vinugawade/sender.net/internal/settings"
	"github.com/vinugawade/sender.net/internal/users"
	"github.com/vinugawade/sender.net/internal/views"
	"github.com/vinugawade/sender.net/pkg/clients"
	"github.com/vinugawade/sender.net/pkg/clients/sendernet"
	"github.com/vinugawade/sender.net/pkg/config"
	"github.com/vinugawade/sender.net/pkg/database"
	"github.com/vinugawade/sender.net/pkg/logging"
	"github.com/vinugawade/sender.net/pkg/monitoring"
	"github.com/vinugawade/sender.net/pkg/redis"
	"github.com/vinugawade/sender.net/pkg/server"
	"github.com/vinugawade/sender.net/pkg/turnstile"
	"github.com/vinugawade/sender.net/pkg/version"
)

const serviceName = "sendernet"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)
	logger.SetLevel(config.GetLogLevel())

	port := config.GetEnv("PORT", "18040")
	turnstileKey := config.GetEnv("TURNSTILE_FORMS_SECRET_KEY", "")
	turnstileSiteKey := config.GetEnv("TURNSTILE_SITE_KEY", "")
	adminUser := config.GetEnv("ADMIN_USERNAME", "admin")
	adminPassword := config.GetEnv("ADMIN_PASSWORD", "")

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)

	baseURL := config.GetEnv("SENDER_API_BASE_URL", sendernet.DefaultBaseURL)
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"SENDER_API_BASE_URL": baseURL,
	}))

	// Settings and local users
	var settingsStore settings.Store
	var directory users.Directory
	if dbURL := config.GetEnv("DATABASE_URL", ""); dbURL != "" {
		dbConfig := database.DefaultConfig()
		dbConfig.URL = dbURL
		db, err := database.Connect(dbConfig, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := database.ApplySchema(ctx, db, logger); err != nil {
			cancel()
			logger.WithError(err).Fatal("Failed to apply database schema")
		}
		cancel()

		settingsStore = settings.NewPostgresStore(db)
		cacheOpts := users.DefaultCacheOptions()
		cacheOpts.TTL = config.GetEnvDuration("USER_CACHE_TTL", cacheOpts.TTL)
		cacheOpts.Lookups = metricsCollector.NewCounter("user_cache_lookups_total", "Local user lookups by cache result", []string{"result"})
		directory = users.NewCachedDirectory(users.NewPostgresDirectory(db), cacheOpts)
		healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	} else {
		logger.Warn("DATABASE_URL not set; settings are kept in memory and local user lookup is disabled")
		settingsStore = settings.NewMemoryStore()
		directory = users.NoopDirectory{}
	}

	// Flash messages
	var flashStore messenger.Store
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := redis.NewClientFromURL(ctx, redisURL)
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer client.Close()

		redisStore := messenger.NewRedisStore(client, 0)
		healthChecker.AddCheck("redis", monitoring.PingHealthCheck("redis", redisStore))
		flashStore = redisStore
	} else {
		flashStore = messenger.NewMemoryStore(0)
	}
	healthChecker.AddCheck("settings", settings.HealthCheck(settingsStore))
	formTokenKey := config.GetEnv("FORM_TOKEN_SECRET", "")
	if formTokenKey == "" {
		logger.Warn("FORM_TOKEN_SECRET not set; settings forms only validate on the instance that rendered them")
	}
	flash := messenger.New(flashStore, logger,
		messenger.WithSecureCookie(config.GetEnvBool("SECURE_COOKIES", false)),
		messenger.WithFormTokenKey([]byte(formTokenKey)),
	)

	// sender.net API client
	apiMetrics := &sendernet.Metrics{
		Requests:     metricsCollector.NewCounter("api_requests_total", "sender.net API calls by operation and outcome", []string{"operation", "status"}),
		Duration:     metricsCollector.NewHistogram("api_request_duration_seconds", "sender.net API call latency", []string{"operation"}, nil),
		CircuitState: metricsCollector.NewGauge("api_circuit_state", "sender.net circuit breaker state (0=closed, 1=half-open, 2=open)", []string{"name"}),
	}

	executorConfig := clients.DefaultHTTPExecutorConfig()
	executorConfig.MaxRetries = config.GetEnvInt("SENDER_MAX_RETRIES", 0)
	if config.GetEnvBool("SENDER_CIRCUIT_BREAKER", false) {
		cb := clients.DefaultCircuitBreakerConfig()
		cb.Name = serviceName
		cb.Logger = logger
		cb.OnStateChange = apiMetrics.RecordCircuitState
		executorConfig.CircuitBreaker = &cb
	}

	apiClient := sendernet.NewClient(
		settings.Credentials(settingsStore),
		logger,
		sendernet.WithHTTPClient(clients.NewHTTPClient(config.GetEnvDuration("SENDER_HTTP_TIMEOUT", 10*time.Second))),
		sendernet.WithDefaultBaseURL(baseURL),
		sendernet.WithHTTPExecutorConfig(executorConfig),
		sendernet.WithMetrics(apiMetrics),
	)

	formMetrics := &handlers.FormMetrics{
		SettingsRequests:  metricsCollector.NewCounter("settings_requests_total", "Settings form submissions by outcome", []string{"status"}),
		SubscribeRequests: metricsCollector.NewCounter("subscribe_requests_total", "Subscription submissions by outcome", []string{"status"}),
	}

	turnstileValidator := turnstile.NewValidator(turnstileKey)
	tmpl := views.MustParse()

	blockHandler := handlers.NewBlockHandler(views.NewRenderer(tmpl), flash, turnstileSiteKey, logger)
	subscribeHandler := handlers.NewSubscribeHandler(handlers.SubscribeConfig{
		API:                apiClient,
		Settings:           settingsStore,
		Users:              directory,
		Flash:              flash,
		Block:              blockHandler,
		TurnstileValidator: turnstileValidator,
		TurnstileEnabled:   turnstileValidator.Enabled(),
		Logger:             logger,
		Metrics:            formMetrics,
	})
	settingsHandler := handlers.NewSettingsHandler(apiClient, settingsStore, flash, flash, logger, formMetrics)

	app := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	app.SetHTMLTemplate(tmpl)

	registerRoutes(app, routeDeps{
		settings:      settingsHandler,
		subscribe:     subscribeHandler,
		block:         blockHandler,
		adminUser:     adminUser,
		adminPassword: adminPassword,
		logger:        logger,
	})

	serverConfig := server.DefaultConfig(serviceName, port)
	if err := server.Start(serverConfig, app, logger); err != nil {
		logger.Fatal(err.Error())
	}
}
