package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/LeadPipe/internal/app"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
)

func main() {
	// .env is loaded before the logger so LOG_LEVEL may come from it.
	envErr := godotenv.Load()
	initializeLogger(os.Getenv("LOG_LEVEL"))
	if envErr != nil {
		slog.Debug("failed to load .env file", "error", envErr)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config, err := loadEnvironmentConfig()
	if err != nil {
		slog.Error("Invalid environment configuration", "error", err)
		os.Exit(1)
	}

	if err := parseCommandLineFlags(&config, os.Args[1:]); err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	lock, err := lockfile.AcquireLock(config.StateDir, config.Transport)
	if err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			fmt.Fprintln(os.Stderr, lockErr.Error())
		}
		slog.Error("Failed to lock state directory", "error", err, "state_dir", config.StateDir)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping LeadPipe", "transport", config.Transport, "state_dir", config.StateDir)
	a, err := app.New(ctx, config)
	if err != nil {
		slog.Error("LeadPipe failed to start", "error", err)
		lock.Release()
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// initializeLogger installs a text slog handler on stdout at the given level (debug by default).
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig reads the configuration from the environment (and .env, loaded earlier).
func loadEnvironmentConfig() (app.Config, error) {
	var config app.Config
	if err := env.Parse(&config); err != nil {
		return app.Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	slog.Debug("environment variables loaded",
		"LEADPIPE_TRANSPORT", config.Transport,
		"LEADPIPE_STATE_DIR", config.StateDir,
		"LEADPIPE_FORM_FILE", config.FormFile,
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"API_ADDR", config.APIAddr,
		"API_ADMIN_PASSWORD_SET", config.APIAdminPassword != "",
		"CRM_ENDPOINT_SET", config.CRMEndpoint != "",
		"CRM_PUBLIC_ID_SET", config.CRMPublicID != "",
		"LEADPIPE_NOTIFY_DESTINATION", config.NotifyDestination)
	return config, nil
}

// parseCommandLineFlags overrides config with any flags given in args.
func parseCommandLineFlags(config *app.Config, args []string) error {
	fs := flag.NewFlagSet("LeadPipe", flag.ContinueOnError)
	fs.StringVar(&config.Transport, "transport", config.Transport, "chat transport: telegram, whatsapp or twilio (overrides $LEADPIPE_TRANSPORT)")
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)")
	fs.StringVar(&config.FormFile, "form", config.FormFile, "YAML form definition (overrides $LEADPIPE_FORM_FILE)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "lead archive DSN (overrides $DATABASE_URL)")
	fs.StringVar(&config.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "WhatsApp device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.QROutput, "qr-output", config.QROutput, "path to write the WhatsApp login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "use a numeric WhatsApp login code instead of a QR code")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.NotifyDestination, "notify", config.NotifyDestination, "chat that receives new lead notifications (overrides $LEADPIPE_NOTIFY_DESTINATION)")
	fs.StringVar(&config.CRMEndpoint, "crm-endpoint", config.CRMEndpoint, "CRM ingestion URL (overrides $CRM_ENDPOINT)")
	fs.StringVar(&config.CRMPublicID, "crm-public-id", config.CRMPublicID, "CRM tenant identifier (overrides $CRM_PUBLIC_ID)")
	fs.DurationVar(&config.CRMTimeout, "crm-timeout", config.CRMTimeout, "CRM request timeout (overrides $CRM_TIMEOUT)")
	fs.DurationVar(&config.SessionIdleTimeout, "session-idle-timeout", config.SessionIdleTimeout, "drop conversations idle this long, 0 keeps them (overrides $SESSION_IDLE_TIMEOUT)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	slog.Debug("flags parsed",
		"transport", config.Transport,
		"stateDir", config.StateDir,
		"formFile", config.FormFile,
		"apiAddr", config.APIAddr,
		"notify", config.NotifyDestination,
		"crmTimeout", config.CRMTimeout)
	return nil
}
