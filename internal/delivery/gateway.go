package delivery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Submitter submits a lead to the CRM and classifies the result.
type Submitter interface {
	Submit(ctx context.Context, lead models.Lead) models.CRMOutcome
}

// GatewayOpts holds configuration options for the Gateway.
type GatewayOpts struct {
	AsyncNotification bool
}

// GatewayOption defines a configuration option for the Gateway.
type GatewayOption func(*GatewayOpts)

// WithAsyncNotification posts notifications in the background so Deliver returns as soon as the
// CRM leg finishes.
func WithAsyncNotification(async bool) GatewayOption {
	return func(o *GatewayOpts) { o.AsyncNotification = async }
}

// Gateway runs both delivery legs for a completed lead: the CRM submission, then the notification,
// each attempted exactly once regardless of the other's result.
type Gateway struct {
	crm      Submitter
	notifier Notifier
	async    bool
	wg       sync.WaitGroup
}

// NewGateway creates a Gateway.
func NewGateway(crm Submitter, notifier Notifier, opts ...GatewayOption) *Gateway {
	var cfg GatewayOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Gateway{crm: crm, notifier: notifier, async: cfg.AsyncNotification}
}

// Deliver submits the lead to the CRM and announces it. In async mode the outcome's
// NotificationErr is always nil; failures are logged instead.
func (g *Gateway) Deliver(ctx context.Context, lead models.Lead) models.DeliveryOutcome {
	outcome := models.DeliveryOutcome{CRM: g.crm.Submit(ctx, lead)}
	slog.Info("Gateway.Deliver: CRM leg finished", "lead_id", lead.ID, "crm_status", outcome.CRM.Status)

	if g.async {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			if err := g.notifier.Notify(context.WithoutCancel(ctx), lead, outcome.CRM); err != nil {
				slog.Error("Gateway.Deliver: notification failed", "error", err, "lead_id", lead.ID)
			}
		}()
		return outcome
	}

	if err := g.notifier.Notify(ctx, lead, outcome.CRM); err != nil {
		slog.Error("Gateway.Deliver: notification failed", "error", err, "lead_id", lead.ID)
		outcome.NotificationErr = err
	}
	return outcome
}

// Wait blocks until background notifications have finished.
func (g *Gateway) Wait() {
	g.wg.Wait()
}
