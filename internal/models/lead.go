package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LeadField is one collected answer of a lead, in form order.
type LeadField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	CRMParam string `json:"crm_param,omitempty"`
	// Value is the validated value submitted to the CRM (the choice token for choices).
	Value string `json:"value"`
	// Display is the human-readable rendering used in notifications.
	Display string `json:"display"`
}

// Lead is the fully validated set of answers of one completed conversation.
// A Lead is built once by NewLead and treated as read-only afterwards.
type Lead struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Username  string      `json:"username,omitempty"`
	Source    string      `json:"source"`
	Fields    []LeadField `json:"fields"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewLead assembles a Lead, copying fields so later changes to the caller's slice cannot leak in.
func NewLead(sessionID, username, source string, fields []LeadField) Lead {
	copied := make([]LeadField, len(fields))
	copy(copied, fields)
	return Lead{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Username:  username,
		Source:    source,
		Fields:    copied,
		CreatedAt: time.Now().UTC(),
	}
}

// Value returns the value collected for the named field.
func (l Lead) Value(name string) (string, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// CRMStatus classifies the result of a CRM submission.
type CRMStatus string

const (
	// CRMStatusDelivered means the CRM accepted the lead.
	CRMStatusDelivered CRMStatus = "delivered"
	// CRMStatusConfigError means required CRM configuration was missing and nothing was sent.
	CRMStatusConfigError CRMStatus = "config_error"
	// CRMStatusTransportError means the request failed before a response was received.
	CRMStatusTransportError CRMStatus = "transport_error"
	// CRMStatusRemoteRejected means the CRM answered without a success indication.
	CRMStatusRemoteRejected CRMStatus = "remote_rejected"
)

// CRMOutcome is the classified result of one CRM submission attempt.
type CRMOutcome struct {
	Status     CRMStatus `json:"status"`
	HTTPStatus int       `json:"http_status,omitempty"`
	// Excerpt holds at most 200 characters of the response body for rejected submissions.
	Excerpt string `json:"excerpt,omitempty"`
	Err     error  `json:"-"`
}

// Delivered reports whether the CRM accepted the lead.
func (o CRMOutcome) Delivered() bool {
	return o.Status == CRMStatusDelivered
}

// String renders the outcome for humans; it is embedded in confirmations and notifications.
func (o CRMOutcome) String() string {
	switch o.Status {
	case CRMStatusDelivered:
		return "CRM: delivered"
	case CRMStatusConfigError:
		if o.Err != nil {
			return fmt.Sprintf("CRM: not sent, configuration error (%v)", o.Err)
		}
		return "CRM: not sent, configuration error"
	case CRMStatusTransportError:
		return fmt.Sprintf("CRM: connection error (%v)", o.Err)
	case CRMStatusRemoteRejected:
		return fmt.Sprintf("CRM: rejected with HTTP %d: %s", o.HTTPStatus, o.Excerpt)
	default:
		return "CRM: unknown outcome"
	}
}

// DeliveryOutcome combines the CRM outcome with the result of the notification leg.
type DeliveryOutcome struct {
	CRM CRMOutcome
	// NotificationErr is informational only; it never changes conversation state.
	NotificationErr error
}

// ArchivedLead is a completed lead together with how its delivery went.
type ArchivedLead struct {
	Lead        Lead      `json:"lead"`
	CRMStatus   CRMStatus `json:"crm_status"`
	CRMDetail   string    `json:"crm_detail"`
	NotifyError string    `json:"notify_error,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// NewArchivedLead records a lead and its delivery outcome.
func NewArchivedLead(lead Lead, outcome DeliveryOutcome) ArchivedLead {
	a := ArchivedLead{
		Lead:        lead,
		CRMStatus:   outcome.CRM.Status,
		CRMDetail:   outcome.CRM.String(),
		DeliveredAt: time.Now().UTC(),
	}
	if outcome.NotificationErr != nil {
		a.NotifyError = outcome.NotificationErr.Error()
	}
	return a
}
