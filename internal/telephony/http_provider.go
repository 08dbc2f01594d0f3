package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/domain"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 64 << 10
)

// HTTPProvider talks to a conversational voice-agent API that places
// outbound calls through a linked phone number.
type HTTPProvider struct {
	baseURL       string
	apiKey        string
	agentID       string
	phoneNumberID string
	client        *http.Client
	now           func() time.Time
}

// NewHTTPProvider builds a provider client from config.
func NewHTTPProvider(cfg config.ProviderConfig) *HTTPProvider {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPProvider{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        strings.TrimSpace(cfg.APIKey),
		agentID:       strings.TrimSpace(cfg.AgentID),
		phoneNumberID: strings.TrimSpace(cfg.PhoneNumberID),
		client:        &http.Client{Timeout: timeout},
		now:           time.Now,
	}
}

type outboundCallRequest struct {
	AgentID                string                 `json:"agent_id"`
	AgentPhoneNumberID     string                 `json:"agent_phone_number_id,omitempty"`
	ToNumber               string                 `json:"to_number"`
	ConversationInitiation conversationInitiation `json:"conversation_initiation_client_data"`
}

type conversationInitiation struct {
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

type outboundCallResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"callSid"`
}

// SubmitCall places an outbound call and returns the provider's call id.
func (p *HTTPProvider) SubmitCall(ctx context.Context, req SubmitCallRequest) (SubmitCallResult, error) {
	if err := p.checkCredentials(); err != nil {
		return SubmitCallResult{}, err
	}

	vars := map[string]string{
		"customer_name": req.Name,
		"owner_id":      req.OwnerID,
	}
	for k, v := range req.Metadata {
		if v != "" {
			vars[k] = v
		}
	}

	body, err := json.Marshal(outboundCallRequest{
		AgentID:                p.agentID,
		AgentPhoneNumberID:     p.phoneNumberID,
		ToNumber:               req.Phone,
		ConversationInitiation: conversationInitiation{DynamicVariables: vars},
	})
	if err != nil {
		return SubmitCallResult{}, fmt.Errorf("telephony: marshal submit: %w", err)
	}

	var resp outboundCallResponse
	if err := p.do(ctx, http.MethodPost, "/convai/twilio/outbound-call", bytes.NewReader(body), &resp); err != nil {
		return SubmitCallResult{}, err
	}

	callID := resp.ConversationID
	if callID == "" {
		callID = resp.CallSID
	}
	if callID == "" {
		msg := resp.Message
		if msg == "" {
			msg = "provider did not return a call identifier"
		}
		return SubmitCallResult{}, &DispatchError{Kind: domain.ErrorKindProvider, Message: msg}
	}

	return SubmitCallResult{CallID: callID}, nil
}

type conversationResponse struct {
	Status     string `json:"status"`
	Transcript []struct {
		Role           string `json:"role"`
		Message        string `json:"message"`
		TimeInCallSecs int    `json:"time_in_call_secs"`
	} `json:"transcript"`
	Metadata struct {
		CallDurationSecs  int                `json:"call_duration_secs"`
		TerminationReason string             `json:"termination_reason"`
		Cost              float64            `json:"cost"`
		Charging          map[string]float64 `json:"charging"`
		HangupBy          string             `json:"hangup_by"`
	} `json:"metadata"`
	Analysis struct {
		DataCollectionResults map[string]struct {
			Value any `json:"value"`
		} `json:"data_collection_results"`
	} `json:"analysis"`
	HasAudio     bool   `json:"has_audio"`
	RecordingURL string `json:"recording_url"`
}

// GetCallStatus fetches the current interaction snapshot for callID.
func (p *HTTPProvider) GetCallStatus(ctx context.Context, callID string) (domain.Interaction, error) {
	if err := p.checkCredentials(); err != nil {
		return domain.Interaction{}, err
	}

	var resp conversationResponse
	if err := p.do(ctx, http.MethodGet, "/convai/conversations/"+url.PathEscape(callID), nil, &resp); err != nil {
		return domain.Interaction{}, err
	}

	snapshot := domain.Interaction{
		ProviderStatus:  resp.Status,
		DurationSeconds: resp.Metadata.CallDurationSecs,
		RecordingURL:    resp.RecordingURL,
		HangupBy:        resp.Metadata.HangupBy,
		HangupReason:    resp.Metadata.TerminationReason,
		Cost:            resp.Metadata.Charging,
		TotalCost:       resp.Metadata.Cost,
		FetchedAt:       p.now().UTC(),
	}
	if snapshot.RecordingURL == "" && resp.HasAudio {
		snapshot.RecordingURL = p.baseURL + "/convai/conversations/" + url.PathEscape(callID) + "/audio"
	}
	for _, turn := range resp.Transcript {
		snapshot.Transcript = append(snapshot.Transcript, domain.TranscriptTurn{
			Role:    turn.Role,
			Message: turn.Message,
			AtSec:   turn.TimeInCallSecs,
		})
	}
	if len(resp.Analysis.DataCollectionResults) > 0 {
		snapshot.ExtractedFields = make(map[string]any, len(resp.Analysis.DataCollectionResults))
		for k, v := range resp.Analysis.DataCollectionResults {
			snapshot.ExtractedFields[k] = v.Value
		}
	}
	return snapshot, nil
}

func (p *HTTPProvider) checkCredentials() error {
	if p.apiKey == "" || isPlaceholder(p.apiKey) {
		return configurationError("calling provider API key is not configured")
	}
	if p.agentID == "" || isPlaceholder(p.agentID) {
		return configurationError("calling provider agent id is not configured")
	}
	return nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &DispatchError{Kind: domain.ErrorKindNetwork, Message: "no response from calling provider: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &DispatchError{
			Kind:       domain.ErrorKindProvider,
			StatusCode: resp.StatusCode,
			Message:    providerMessage(raw, resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DispatchError{Kind: domain.ErrorKindProvider, StatusCode: resp.StatusCode, Message: "unreadable provider response: " + err.Error()}
	}
	return nil
}

// providerMessage extracts a readable reason from an error body.
func providerMessage(raw []byte, status int) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			switch v := body[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if msg, ok := v["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) <= 512 {
		return text
	}
	return http.StatusText(status)
}

func isPlaceholder(v string) bool {
	lower := strings.ToLower(v)
	return strings.HasPrefix(lower, "your_") || strings.HasPrefix(lower, "your-") || lower == "changeme" || strings.Contains(lower, "placeholder")
}
