package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/testutil"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
)

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

type failingStore struct{ store.InMemoryStore }

func (*failingStore) GetLeads() ([]models.ArchivedLead, error) {
	return nil, errors.New("database is locked")
}

func serve(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	s := NewServer(WithSessionCounter(fixedCounter(3)))

	rr := serve(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected health result object, got %T", resp["result"])
	}
	if result["active_sessions"] != float64(3) {
		t.Errorf("expected active_sessions 3, got %v", result["active_sessions"])
	}
	if _, ok := result["timestamp"].(string); !ok {
		t.Errorf("expected timestamp, got %v", result["timestamp"])
	}

	rr = serve(t, s, httptest.NewRequest(http.MethodPost, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "health with POST")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestLeadsHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	lead := models.NewLead("telegram:1", "dana", "telegram", []models.LeadField{{Name: "first_name", Value: "Dana"}})
	if err := st.SaveLead(models.NewArchivedLead(lead, models.DeliveryOutcome{CRM: models.CRMOutcome{Status: models.CRMStatusDelivered}})); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		opts       []Option
		wantStatus int
		wantEnv    string
		wantCount  int
	}{
		{name: "archived leads", opts: []Option{WithLeadStore(st)}, wantStatus: http.StatusOK, wantEnv: "ok", wantCount: 1},
		{name: "empty archive", opts: []Option{WithLeadStore(store.NewInMemoryStore())}, wantStatus: http.StatusOK, wantEnv: "ok"},
		{name: "no archive", wantStatus: http.StatusServiceUnavailable, wantEnv: "error"},
		{name: "store failure", opts: []Option{WithLeadStore(&failingStore{})}, wantStatus: http.StatusInternalServerError, wantEnv: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithAdminCredentials("", "s3cret")}, tt.opts...)
			req := httptest.NewRequest(http.MethodGet, "/leads", nil)
			req.SetBasicAuth(DefaultAdminUser, "s3cret")
			rr := serve(t, NewServer(opts...), req)
			testutil.AssertHTTPStatus(t, tt.wantStatus, rr.Code, tt.name)
			resp := testutil.AssertJSONResponse(t, rr, tt.wantEnv)
			if tt.wantEnv != "ok" {
				return
			}
			result, ok := resp["result"].([]interface{})
			if !ok {
				t.Fatalf("expected result list, got %T", resp["result"])
			}
			if len(result) != tt.wantCount {
				t.Errorf("expected %d leads, got %d", tt.wantCount, len(result))
			}
		})
	}
}

func TestLeadsRequiresAdminCredentials(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewServer(WithLeadStore(st), WithAdminCredentials("ops", "s3cret"))

	tests := []struct {
		name       string
		user, pass string
		wantStatus int
	}{
		{name: "no credentials", wantStatus: http.StatusUnauthorized},
		{name: "wrong password", user: "ops", pass: "guess", wantStatus: http.StatusUnauthorized},
		{name: "wrong user", user: "admin", pass: "s3cret", wantStatus: http.StatusUnauthorized},
		{name: "valid credentials", user: "ops", pass: "s3cret", wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/leads", nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rr := serve(t, s, req)
			testutil.AssertHTTPStatus(t, tt.wantStatus, rr.Code, tt.name)
			if tt.wantStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected a WWW-Authenticate challenge")
			}
		})
	}
}

func TestLeadsDisabledWithoutAdminPassword(t *testing.T) {
	s := NewServer(WithLeadStore(store.NewInMemoryStore()))
	req := httptest.NewRequest(http.MethodGet, "/leads", nil)
	req.SetBasicAuth(DefaultAdminUser, "")
	rr := serve(t, s, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "leads without admin password")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestTwilioWebhookRoute(t *testing.T) {
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	s := NewServer(WithTwilioWebhook(svc.TwilioWebhookHandler))

	form := url.Values{"From": {"whatsapp:+972501112222"}, "Body": {"/start"}, "ProfileName": {"Dana"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := serve(t, s, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "twilio webhook")

	select {
	case evt := <-svc.Events():
		if evt.Kind != models.EventKindCommand || evt.Command != models.CommandStart || evt.SessionID != "twilio:972501112222" {
			t.Errorf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected inbound event")
	}
}

func TestTwilioWebhookNotMounted(t *testing.T) {
	rr := serve(t, NewServer(), httptest.NewRequest(http.MethodPost, "/webhooks/twilio", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "webhook without twilio")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
