// Package app assembles LeadPipe from its modules and runs it until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/delivery"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/form"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/session"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/telegram"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// Defaults for file-backed state.
const (
	DefaultStateDir     = "/var/lib/leadpipe"
	DefaultLeadsDBName  = "leads.db"
	DefaultWhatsAppName = "whatsmeow.db"
)

var (
	// ErrUnknownTransport is returned for a transport name other than telegram, whatsapp or twilio.
	ErrUnknownTransport = errors.New("unknown transport")
	// ErrTwilioNeedsAPI is returned when the Twilio transport is selected without an API address
	// to receive its webhook on.
	ErrTwilioNeedsAPI = errors.New("twilio transport requires API_ADDR for its inbound webhook")
)

// Config is the complete runtime configuration, populated from the environment and flags.
type Config struct {
	Transport string `env:"LEADPIPE_TRANSPORT" envDefault:"telegram"`
	StateDir  string `env:"LEADPIPE_STATE_DIR" envDefault:"/var/lib/leadpipe"`
	FormFile  string `env:"LEADPIPE_FORM_FILE"`

	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramDebug bool   `env:"TELEGRAM_DEBUG"`

	WhatsAppDSN string `env:"WHATSAPP_DB_DSN"`
	QROutput    string `env:"WHATSAPP_QR_OUTPUT"`
	NumericCode bool   `env:"WHATSAPP_NUMERIC_CODE"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `env:"TWILIO_FROM_NUMBER"`

	// DatabaseURL is the lead archive DSN; empty archives to SQLite in the state directory.
	DatabaseURL string `env:"DATABASE_URL"`
	APIAddr     string `env:"API_ADDR"`

	// GET /leads is mounted only when APIAdminPassword is set.
	APIAdminUser     string `env:"API_ADMIN_USER" envDefault:"admin"`
	APIAdminPassword string `env:"API_ADMIN_PASSWORD"`

	NotifyDestination string `env:"LEADPIPE_NOTIFY_DESTINATION" envDefault:"@rakbriut"`
	NotifyAsync       bool   `env:"NOTIFY_ASYNC"`

	CRMEndpoint      string        `env:"CRM_ENDPOINT"`
	CRMPublicID      string        `env:"CRM_PUBLIC_ID"`
	CRMTimeout       time.Duration `env:"CRM_TIMEOUT" envDefault:"10s"`
	CRMSuccessMarker string        `env:"CRM_SUCCESS_MARKER" envDefault:"success"`
	LeadSource       string        `env:"LEAD_SOURCE" envDefault:"telegram"`

	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT"`
}

// LeadsDSN returns the lead archive DSN, defaulting to SQLite in the state directory.
func (c Config) LeadsDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultLeadsDBName)
}

// WhatsAppStoreDSN returns the whatsmeow device store DSN, defaulting to DATABASE_URL and then to
// SQLite in the state directory.
func (c Config) WhatsAppStoreDSN() string {
	switch {
	case c.WhatsAppDSN != "":
		return c.WhatsAppDSN
	case c.DatabaseURL != "":
		return c.DatabaseURL
	default:
		return "file:" + filepath.Join(c.StateDir, DefaultWhatsAppName) + "?_foreign_keys=on"
	}
}

// Opts holds construction overrides, mainly for tests.
type Opts struct {
	Service messaging.Service
	Leads   store.Store
}

// Option defines a construction override.
type Option func(*Opts)

// WithService uses svc instead of building the configured transport.
func WithService(svc messaging.Service) Option {
	return func(o *Opts) { o.Service = svc }
}

// WithLeadStore uses st instead of opening the configured lead archive.
func WithLeadStore(st store.Store) Option {
	return func(o *Opts) { o.Leads = st }
}

// App is a fully wired LeadPipe instance.
type App struct {
	cfg        Config
	svc        messaging.Service
	leads      store.Store
	sessions   *session.Store
	gateway    *delivery.Gateway
	capture    *flow.LeadCapture
	dispatcher *messaging.Dispatcher
	api        *api.Server
	closers    []func()
}

// New builds every module from cfg. Nothing is started until Run.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}

	def := form.DefaultDefinition()
	if cfg.FormFile != "" {
		loaded, err := form.LoadDefinition(cfg.FormFile)
		if err != nil {
			return nil, err
		}
		def = loaded
	}

	a := &App{cfg: cfg}

	a.svc = o.Service
	if a.svc == nil {
		svc, closer, err := buildService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.svc = svc
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	a.leads = o.Leads
	if a.leads == nil {
		leads, err := store.NewStore(store.WithDSN(cfg.LeadsDSN()))
		if err != nil {
			a.close()
			return nil, err
		}
		a.leads = leads
	}

	crm := delivery.NewCRMClient(
		delivery.WithEndpoint(cfg.CRMEndpoint),
		delivery.WithPublicID(cfg.CRMPublicID),
		delivery.WithSource(cfg.LeadSource),
		delivery.WithTimeout(cfg.CRMTimeout),
		delivery.WithSuccessMarker(cfg.CRMSuccessMarker),
	)
	notifier := delivery.NewChannelNotifier(a.svc, cfg.NotifyDestination)
	a.gateway = delivery.NewGateway(crm, notifier, delivery.WithAsyncNotification(cfg.NotifyAsync))

	a.sessions = session.NewStore(session.WithIdleTimeout(cfg.SessionIdleTimeout))

	capture, err := flow.NewLeadCapture(def, a.sessions, a.svc, a.gateway,
		flow.WithSource(cfg.LeadSource),
		flow.WithArchive(a.leads),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.capture = capture
	a.dispatcher = messaging.NewDispatcher(a.svc, capture.Handler())

	if cfg.APIAddr != "" {
		apiOpts := []api.Option{
			api.WithAddr(cfg.APIAddr),
			api.WithAdminCredentials(cfg.APIAdminUser, cfg.APIAdminPassword),
			api.WithLeadStore(a.leads),
			api.WithSessionCounter(a.sessions),
		}
		if tw, ok := a.svc.(*messaging.TwilioService); ok {
			apiOpts = append(apiOpts, api.WithTwilioWebhook(tw.TwilioWebhookHandler))
		}
		a.api = api.NewServer(apiOpts...)
	}

	slog.Info("app.New: LeadPipe assembled",
		"transport", a.svc.Name(),
		"fields", len(def.Fields),
		"crm_configured", cfg.CRMEndpoint != "" && cfg.CRMPublicID != "",
		"notify_destination", cfg.NotifyDestination,
		"api_addr", cfg.APIAddr)
	return a, nil
}

// buildService creates the configured transport and, where it holds a connection, its closer.
func buildService(ctx context.Context, cfg Config) (messaging.Service, func(), error) {
	switch cfg.Transport {
	case messaging.TelegramTransport:
		client, err := telegram.NewClient(telegram.WithToken(cfg.TelegramToken), telegram.WithDebug(cfg.TelegramDebug))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create telegram client: %w", err)
		}
		return messaging.NewTelegramService(client), nil, nil

	case messaging.WhatsAppTransport:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppStoreDSN())}
		if cfg.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QROutput))
		}
		if cfg.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), client.Disconnect, nil

	case messaging.TwilioTransport:
		if cfg.APIAddr == "" {
			return nil, nil, ErrTwilioNeedsAPI
		}
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFrom),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}

// Sessions returns the live session table.
func (a *App) Sessions() *session.Store {
	return a.sessions
}

// Run starts the transport, the dispatcher and the API server, blocks until ctx is cancelled, and
// then shuts everything down in order. Inbound events stop first while sends stay open, so
// in-flight conversations can still confirm and notify. Sends close only after the dispatcher and
// pending notifications drain; the API server and the lead archive go last.
func (a *App) Run(ctx context.Context) error {
	if err := a.svc.Start(ctx); err != nil {
		a.close()
		return fmt.Errorf("failed to start %s transport: %w", a.svc.Name(), err)
	}

	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()
	a.dispatcher.Start(dispatchCtx)

	apiCtx, stopAPI := context.WithCancel(context.Background())
	defer stopAPI()
	var apiErr chan error
	if a.api != nil {
		apiErr = make(chan error, 1)
		go func() { apiErr <- a.api.Run(apiCtx) }()
	}

	slog.Info("app.Run: LeadPipe running", "transport", a.svc.Name())

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("app.Run: shutdown requested")
	case err := <-apiErr:
		// The API server only returns early when it cannot serve.
		slog.Error("app.Run: API server failed", "error", err)
		runErr = err
		apiErr = nil
	}

	if err := a.svc.StopReceiving(); err != nil {
		slog.Warn("app.Run: failed to stop receiving", "error", err)
	}
	a.dispatcher.Wait()
	stopDispatch()
	a.gateway.Wait()
	if err := a.svc.Stop(); err != nil {
		slog.Warn("app.Run: failed to stop transport", "error", err)
	}

	stopAPI()
	if apiErr != nil {
		if err := <-apiErr; err != nil {
			slog.Warn("app.Run: API server shutdown failed", "error", err)
		}
	}

	a.close()
	slog.Info("app.Run: LeadPipe stopped")
	return runErr
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.leads != nil {
		if err := a.leads.Close(); err != nil {
			slog.Warn("app: failed to close lead store", "error", err)
		}
		a.leads = nil
	}
}
