package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/domain"
)

func newTestProvider(baseURL string) *HTTPProvider {
	return NewHTTPProvider(config.ProviderConfig{
		BaseURL:        baseURL,
		APIKey:         "sk_test",
		AgentID:        "agent_1",
		PhoneNumberID:  "pn_1",
		RequestTimeout: 2 * time.Second,
	})
}

func TestSubmitCallSuccess(t *testing.T) {
	var got outboundCallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/convai/twilio/outbound-call" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "sk_test" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"success":true,"conversation_id":"conv_123"}`))
	}))
	defer srv.Close()

	res, err := newTestProvider(srv.URL).SubmitCall(context.Background(), SubmitCallRequest{
		Phone:    "+919876543210",
		Name:     "Asha",
		OwnerID:  "u1",
		Metadata: map[string]string{"city": "Pune", "email": ""},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.CallID != "conv_123" {
		t.Fatalf("unexpected call id %q", res.CallID)
	}
	if got.ToNumber != "+919876543210" || got.AgentID != "agent_1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	vars := got.ConversationInitiation.DynamicVariables
	if vars["customer_name"] != "Asha" || vars["city"] != "Pune" {
		t.Fatalf("unexpected dynamic variables: %v", vars)
	}
	if _, ok := vars["email"]; ok {
		t.Fatalf("expected empty metadata to be dropped")
	}
}

func TestSubmitCallProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":{"status":"invalid_number","message":"Invalid destination number"}}`))
	}))
	defer srv.Close()

	_, err := newTestProvider(srv.URL).SubmitCall(context.Background(), SubmitCallRequest{Phone: "+10000000000"})
	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if de.Kind != domain.ErrorKindProvider || de.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected error: %+v", de)
	}
	if ErrorMessage(err) != "Invalid destination number" {
		t.Fatalf("unexpected message %q", ErrorMessage(err))
	}
}

func TestSubmitCallNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestProvider(url).SubmitCall(context.Background(), SubmitCallRequest{Phone: "+919876543210"})
	if ErrorKindOf(err) != domain.ErrorKindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestSubmitCallConfigurationError(t *testing.T) {
	p := NewHTTPProvider(config.ProviderConfig{BaseURL: "http://unused", APIKey: "your_api_key_here", AgentID: "agent"})
	_, err := p.SubmitCall(context.Background(), SubmitCallRequest{Phone: "+919876543210"})
	if ErrorKindOf(err) != domain.ErrorKindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "API key") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestGetCallStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/convai/conversations/conv_9" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"status": "done",
			"has_audio": true,
			"transcript": [{"role":"agent","message":"Hi","time_in_call_secs":0},{"role":"user","message":"Hello","time_in_call_secs":2}],
			"metadata": {"call_duration_secs": 37, "termination_reason": "end_call tool", "cost": 120, "charging": {"llm_price": 0.02}, "hangup_by": "agent"},
			"analysis": {"data_collection_results": {"interested": {"value": true}}}
		}`))
	}))
	defer srv.Close()

	snap, err := newTestProvider(srv.URL).GetCallStatus(context.Background(), "conv_9")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if snap.ProviderStatus != "done" || snap.DurationSeconds != 37 || len(snap.Transcript) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.HangupBy != "agent" || snap.HangupReason != "end_call tool" || snap.TotalCost != 120 {
		t.Fatalf("unexpected hangup/cost: %+v", snap)
	}
	if snap.ExtractedFields["interested"] != true {
		t.Fatalf("unexpected extracted fields: %v", snap.ExtractedFields)
	}
	if !strings.HasSuffix(snap.RecordingURL, "/convai/conversations/conv_9/audio") {
		t.Fatalf("unexpected recording url %q", snap.RecordingURL)
	}
	if snap.FetchedAt.IsZero() {
		t.Fatalf("expected fetched at to be stamped")
	}
}

func TestProviderMessageFallbacks(t *testing.T) {
	if got := providerMessage([]byte(`{"message":"quota exceeded"}`), 429); got != "quota exceeded" {
		t.Fatalf("unexpected %q", got)
	}
	if got := providerMessage(nil, 503); got != "Service Unavailable" {
		t.Fatalf("unexpected %q", got)
	}
}
