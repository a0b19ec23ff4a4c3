package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/citabot/citabot/internal/api"
	"github.com/citabot/citabot/internal/assistant"
	"github.com/citabot/citabot/internal/commands"
	"github.com/citabot/citabot/internal/dedup"
	"github.com/citabot/citabot/internal/messaging"
	"github.com/citabot/citabot/internal/router"
	"github.com/citabot/citabot/internal/scheduler"
	"github.com/citabot/citabot/internal/store"
	"github.com/citabot/citabot/internal/tenants"
	"github.com/citabot/citabot/internal/twiliowa"
	"github.com/citabot/citabot/internal/usercontext"
	"github.com/citabot/citabot/internal/util"
	"github.com/citabot/citabot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CitaBot state data
	DefaultStateDir = "/var/lib/citabot"
	// DefaultDBFileName is the default SQLite database filename for the tenant registry
	DefaultDBFileName = "citabot.db"
	// DefaultProvider is the default outbound messaging provider
	DefaultProvider = "ultramsg"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping CitaBot with configured modules")
	if err := run(flags); err != nil {
		slog.Error("CitaBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CitaBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	WhatsAppDSN     string
	StateDir        string
	OpenAIKey       string
	APIAddr         string
	Provider        string
	SelfPhone       string
	UltraMsgBase    string
	UltraMsgInst    string
	UltraMsgToken   string
	WebhookToken    string
	MetaVerifyToken string
	Timezone        string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	waDSN     *string
	openaiKey *string
	apiAddr   *string
	provider  *string
	selfPhone *string
	timezone  *string

	config Config
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:        os.Getenv("CITABOT_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		APIAddr:         os.Getenv("API_ADDR"),
		Provider:        os.Getenv("MESSAGING_PROVIDER"),
		SelfPhone:       os.Getenv("ASSISTANT_PHONE"),
		UltraMsgBase:    os.Getenv("ULTRAMSG_BASE_URL"),
		UltraMsgInst:    os.Getenv("ULTRAMSG_INSTANCE_ID"),
		UltraMsgToken:   os.Getenv("ULTRAMSG_TOKEN"),
		WebhookToken:    os.Getenv("WEBHOOK_TOKEN"),
		MetaVerifyToken: os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		Timezone:        os.Getenv("SCHEDULER_TIMEZONE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CITABOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			config.APIAddr = ":" + port
		}
	}
	if config.Provider == "" {
		config.Provider = DefaultProvider
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"CITABOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_PROVIDER", config.Provider,
		"SCHEDULER_TIMEZONE", config.Timezone)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code (whatsapp provider)"),
		numeric:   flag.Bool("numeric-code", false, "use numeric login code instead of QR code (whatsapp provider)"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for CitaBot data (overrides $CITABOT_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for the client registry (overrides $DATABASE_URL)"),
		waDSN:     flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR / $PORT)"),
		provider:  flag.String("provider", config.Provider, "default messaging provider: ultramsg, whatsapp or twilio (overrides $MESSAGING_PROVIDER)"),
		selfPhone: flag.String("assistant-phone", config.SelfPhone, "assistant-facing phone of the default provider (overrides $ASSISTANT_PHONE)"),
		timezone:  flag.String("timezone", config.Timezone, "scheduler timezone (overrides $SCHEDULER_TIMEZONE)"),
		config:    config,
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"provider", *flags.provider)

	// Follow a moved state directory when the DSN still points at the default
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, store.DefaultDirPermissions); err != nil {
			return err
		}
	}
	return nil
}

// buildRepo selects the tenant registry backend from the DSN.
func buildRepo(flags Flags) (store.Repo, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Warn("No database DSN provided, client registry is in-memory only")
		return store.NewInMemoryRepo(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL registry")
		return store.NewPostgresRepo(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite registry", "db_path", dsn)
	return store.NewSQLiteRepo(store.WithDSN(dsn))
}

// buildFallbackService builds the default outbound transport. Tenants with
// their own gateway credentials get dedicated services from the registry.
func buildFallbackService(flags Flags) (messaging.Service, error) {
	switch *flags.provider {
	case "whatsapp":
		var waOpts []whatsapp.Option
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		if *flags.waDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client, *flags.selfPhone), nil

	case "twilio":
		client, err := twiliowa.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil

	case "ultramsg":
		umOpts := []messaging.UltraMsgOption{
			messaging.WithUltraMsgInstance(flags.config.UltraMsgInst, flags.config.UltraMsgToken),
		}
		if flags.config.UltraMsgBase != "" {
			umOpts = append(umOpts, messaging.WithUltraMsgBaseURL(flags.config.UltraMsgBase))
		}
		svc, err := messaging.NewUltraMsgService(umOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create UltraMsg service: %w", err)
		}
		return svc, nil

	default:
		return nil, fmt.Errorf("unknown messaging provider: %s", *flags.provider)
	}
}

// run wires every module together and serves until a shutdown signal.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := buildRepo(flags)
	if err != nil {
		return fmt.Errorf("failed to open client registry: %w", err)
	}
	defer repo.Close()

	directory, err := tenants.NewDirectory(repo)
	if err != nil {
		return fmt.Errorf("failed to load client directory: %w", err)
	}

	if *flags.openaiKey == "" {
		slog.Warn("No OpenAI API key configured, assistant calls will fail")
	}
	engine := assistant.NewEngine(assistant.NewOpenAIAPI(*flags.openaiKey))

	fallback, err := buildFallbackService(flags)
	if err != nil {
		return err
	}
	if err := fallback.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	registry := messaging.NewRegistry(fallback)
	registry.Rebuild(directory.ListActive())
	defer registry.StopAll()

	contexts := usercontext.NewStore()
	interp := commands.NewInterpreter(directory)
	rt := router.New(dedup.NewSet(), contexts, directory, interp, engine, registry)

	// Live-socket providers deliver messages over a channel instead of the
	// webhook; pump them through the same pipeline.
	if inbound := fallback.Inbound(); inbound != nil {
		go func() {
			for msg := range inbound {
				rt.HandleInbound(ctx, msg)
			}
		}()
	}

	var schedOpts []scheduler.Option
	if *flags.timezone != "" {
		schedOpts = append(schedOpts, scheduler.WithTimezone(*flags.timezone))
	}
	if delayMs := util.ParseIntEnv("SCHEDULER_SEND_DELAY_MS", 0); delayMs > 0 {
		schedOpts = append(schedOpts, scheduler.WithSendDelay(time.Duration(delayMs)*time.Millisecond))
	}
	sched, err := scheduler.NewScheduler(fallback, contexts, registry, schedOpts...)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if util.ParseBoolEnv("SCHEDULER_ENABLED", true) {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		slog.Info("Scheduler disabled via SCHEDULER_ENABLED, tasks can still be started through the API")
	}
	defer sched.Stop()

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if flags.config.WebhookToken != "" {
		apiOpts = append(apiOpts, api.WithWebhookToken(flags.config.WebhookToken))
	}
	if flags.config.MetaVerifyToken != "" {
		apiOpts = append(apiOpts, api.WithMetaVerifyToken(flags.config.MetaVerifyToken))
	}
	server := api.NewServer(rt, engine, contexts, directory, registry, sched, repo, interp, apiOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("API server shutdown error", "error", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
