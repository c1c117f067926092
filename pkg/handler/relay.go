package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"squadbot/pkg/config"
	"squadbot/pkg/envelope"
)

const maxRelayResponseBytes = 1 << 20

// relayRequest is the JSON body posted to HTTP specialist handlers.
type relayRequest struct {
	HandlerID          string         `json:"handler_id"`
	RequestID          string         `json:"request_id"`
	TenantID           string         `json:"tenant_id"`
	SenderID           string         `json:"sender_id"`
	SenderName         string         `json:"sender_name,omitempty"`
	Channel            string         `json:"channel"`
	Text               string         `json:"text"`
	RegistrationStatus string         `json:"registration_status"`
	PermissionTier     string         `json:"permission_tier"`
	RuleID             string         `json:"matched_rule_id,omitempty"`
	Command            string         `json:"command,omitempty"`
	Args               string         `json:"args,omitempty"`
	Intent             string         `json:"intent,omitempty"`
	Entities           map[string]any `json:"entities,omitempty"`
	Confidence         *float64       `json:"confidence,omitempty"`
}

// HTTPHandler relays requests to a remote specialist over HTTP and decodes
// its reply as an envelope.
type HTTPHandler struct {
	id      string
	url     string
	headers map[string]string
	client  *http.Client
}

func NewHTTPHandler(id string, cfg config.HandlerEndpointConfig, client *http.Client) (*HTTPHandler, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	parsed, err := url.Parse(endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("handler %q: url %q must be an absolute http(s) url", id, cfg.URL)
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPHandler{id: id, url: endpoint, headers: cfg.Headers, client: client}, nil
}

func (h *HTTPHandler) Invoke(ctx context.Context, req Request) (envelope.Envelope, error) {
	ec := req.Context
	if ec == nil {
		return envelope.Envelope{}, errors.New("relay: missing execution context")
	}

	msg := ec.Message()
	body, err := json.Marshal(relayRequest{
		HandlerID:          h.id,
		RequestID:          ec.RequestID(),
		TenantID:           ec.TenantID(),
		SenderID:           ec.SenderID().String(),
		SenderName:         msg.SenderName,
		Channel:            string(ec.Channel()),
		Text:               ec.Text(),
		RegistrationStatus: string(ec.RegistrationStatus()),
		PermissionTier:     ec.PermissionTier().String(),
		RuleID:             req.Decision.RuleID,
		Command:            req.Decision.Command,
		Args:               req.Decision.Args,
		Intent:             req.Decision.Intent,
		Entities:           req.Decision.Entities,
		Confidence:         req.Decision.Confidence,
	})
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("relay %s: encode request: %w", h.id, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("relay %s: build request: %w", h.id, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", ec.RequestID())
	for key, value := range h.headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return envelope.Envelope{}, ctxErr
		}
		return envelope.Envelope{}, Unavailable(fmt.Errorf("relay %s: %w", h.id, err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayResponseBytes))
	if err != nil {
		return envelope.Envelope{}, Unavailable(fmt.Errorf("relay %s: read response: %w", h.id, err))
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return envelope.Envelope{}, Unavailable(fmt.Errorf("relay %s: status %d", h.id, resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return envelope.Envelope{}, fmt.Errorf("relay %s: status %d", h.id, resp.StatusCode)
	}

	var result envelope.Envelope
	if err := json.Unmarshal(payload, &result); err != nil {
		return envelope.Envelope{}, fmt.Errorf("relay %s: decode response: %w", h.id, err)
	}

	return result, nil
}

// RegisterHTTP registers one relay handler per configured endpoint.
func RegisterHTTP(reg *Registry, endpoints map[string]config.HandlerEndpointConfig, client *http.Client) error {
	var errs []error
	for id, endpoint := range endpoints {
		h, err := NewHTTPHandler(id, endpoint, client)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := reg.Register(id, h); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
