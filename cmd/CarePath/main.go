package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CareBridge/CarePath/internal/api"
	"github.com/CareBridge/CarePath/internal/consent"
	"github.com/CareBridge/CarePath/internal/flow"
	"github.com/CareBridge/CarePath/internal/genai"
	"github.com/CareBridge/CarePath/internal/lockfile"
	"github.com/CareBridge/CarePath/internal/models"
	"github.com/CareBridge/CarePath/internal/notify"
	"github.com/CareBridge/CarePath/internal/safety"
	"github.com/CareBridge/CarePath/internal/store"
	"github.com/CareBridge/CarePath/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CarePath state data
	DefaultStateDir = "/var/lib/carepath"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "carepath.db"
	// sweepInterval is how often expired conversations are reaped
	sweepInterval = 5 * time.Minute
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// A second instance sharing the state directory would bypass the
	// in-process turn serialization, so lock it for file-based storage.
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(filepath.Dir(*flags.dbDSN))
		if err != nil {
			slog.Error("Failed to acquire state directory lock", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	gate, err := safety.NewGateFromFile(*flags.safetyPatterns)
	if err != nil {
		slog.Error("Failed to load safety patterns", "error", err, "path", *flags.safetyPatterns)
		os.Exit(1)
	}

	var content flow.ContentService
	if *flags.openaiKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Error("Failed to initialize content client", "error", err)
			os.Exit(1)
		}
		content = client
	} else {
		slog.Warn("No OpenAI API key configured, health-information answers disabled")
	}

	escalation := buildEscalationService(flags, st)
	gdpr := consent.NewService(st)

	stateManager := flow.NewStateManagerWithOptions(util.ParseDurationEnv("CONVERSATION_TTL", flow.DefaultConversationTTL), st)
	stateManager.StartSweeper(ctx, sweepInterval)

	engine, err := flow.NewEngine(flow.EngineOptions{
		StateManager:        stateManager,
		SafetyGate:          gate,
		Content:             content,
		Escalation:          escalation,
		GDPR:                gdpr,
		ConsentAbsentPolicy: models.ConsentAbsentPolicy(*flags.consentPolicy),
		EscalationTimeout:   util.ParseDurationEnv("ESCALATION_TIMEOUT", flow.DefaultEscalationTimeout),
	})
	if err != nil {
		slog.Error("Failed to initialize flow engine", "error", err)
		os.Exit(1)
	}

	apiOpts := buildAPIOptions(flags)
	slog.Info("Bootstrapping CarePath with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)

	server := api.NewServer(engine, stateManager, st, apiOpts...)
	if err := server.Run(ctx); err != nil {
		slog.Error("CarePath failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CarePath exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	StateDir       string
	OpenAIKey      string
	APIAddr        string
	TeamNumber     string
	WebhookURL     string
	SafetyPatterns string
	ConsentPolicy  string
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	openaiKey      *string
	apiAddr        *string
	teamNumber     *string
	webhookURL     *string
	safetyPatterns *string
	consentPolicy  *string
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
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("CAREPATH_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		APIAddr:        os.Getenv("API_ADDR"),
		TeamNumber:     os.Getenv("ESCALATION_TEAM_NUMBER"),
		WebhookURL:     os.Getenv("ESCALATION_WEBHOOK_URL"),
		SafetyPatterns: os.Getenv("SAFETY_PATTERNS_FILE"),
		ConsentPolicy:  os.Getenv("CONSENT_ABSENT_POLICY"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CAREPATH_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.ConsentPolicy == "" {
		config.ConsentPolicy = string(models.ConsentAbsentCapture)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CAREPATH_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"ESCALATION_TEAM_NUMBER_SET", config.TeamNumber != "",
		"ESCALATION_WEBHOOK_URL_SET", config.WebhookURL != "",
		"SAFETY_PATTERNS_FILE", config.SafetyPatterns,
		"CONSENT_ABSENT_POLICY", config.ConsentPolicy)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for CarePath data (overrides $CAREPATH_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for the conversation store (overrides $DATABASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		teamNumber:     flag.String("team-number", config.TeamNumber, "on-call team SMS number in E.164 format (overrides $ESCALATION_TEAM_NUMBER)"),
		webhookURL:     flag.String("escalation-webhook", config.WebhookURL, "webhook URL for escalation events (overrides $ESCALATION_WEBHOOK_URL)"),
		safetyPatterns: flag.String("safety-patterns", config.SafetyPatterns, "YAML file overriding the crisis pattern table (overrides $SAFETY_PATTERNS_FILE)"),
		consentPolicy:  flag.String("consent-absent-policy", config.ConsentPolicy, "behavior when consent is absent: capture, degraded or block (overrides $CONSENT_ABSENT_POLICY)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"teamNumberSet", *flags.teamNumber != "",
		"webhookSet", *flags.webhookURL != "",
		"safetyPatterns", *flags.safetyPatterns,
		"consentPolicy", *flags.consentPolicy)

	// Follow the state directory when the DSN was derived from the default
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore selects the store backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildEscalationService wires SMS and webhook delivery when configured.
func buildEscalationService(flags Flags, st store.Store) *notify.Service {
	opts := []notify.Option{notify.WithStore(st)}
	if *flags.teamNumber != "" {
		sender, err := notify.NewTwilioClient()
		if err != nil {
			slog.Warn("Twilio not configured, team SMS alerts disabled", "error", err)
		} else {
			opts = append(opts, notify.WithSender(sender), notify.WithTeamNumber(*flags.teamNumber))
		}
	}
	if *flags.webhookURL != "" {
		opts = append(opts, notify.WithWebhookURL(*flags.webhookURL))
	}
	return notify.NewService(opts...)
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
