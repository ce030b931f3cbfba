// Copyright (c) 2026 Team CRM Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mailer is the outbound mail transport client (Mailgun-shaped
// HTTP API). Without an API key every operation degrades to a logged
// simulated success, so the pipeline stays runnable and testable with no
// live credentials.
package mailer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/copp1723/team-crm-ingest/internal/config"
)

// OutboundMessage is one email to send through the transport.
type OutboundMessage struct {
	From       string
	To         []string
	Subject    string
	Text       string
	HTML       string
	InReplyTo  string
	References []string
	Tags       []string
}

// SendResult reports the outcome of a send.
type SendResult struct {
	Success   bool
	MessageID string
	Simulated bool
}

// Client talks to the mail provider's HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	domain     string
	apiKey     string
	signingKey string
	from       string
}

// New creates a transport client from the mail configuration.
func New(cfg config.MailConfig) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		domain:     cfg.Domain,
		apiKey:     cfg.APIKey,
		signingKey: cfg.SigningKey,
		from:       cfg.FromAddress,
	}
	if c.from == "" {
		c.from = "crm@" + cfg.Domain
	}
	if !c.Live() {
		slog.Warn("mail transport running in simulated mode — no API key configured")
	}
	return c
}

// Live reports whether real provider credentials are configured.
func (c *Client) Live() bool { return c.apiKey != "" }

// DefaultFrom is the sender address used for digests and auto-responses.
func (c *Client) DefaultFrom() string { return c.from }

// Send delivers one message via the provider, or logs a simulated success
// when running without credentials.
func (c *Client) Send(ctx context.Context, m OutboundMessage) (*SendResult, error) {
	if len(m.To) == 0 {
		return nil, fmt.Errorf("send: no recipients")
	}
	if m.From == "" {
		m.From = c.from
	}

	if !c.Live() {
		id := "simulated-" + uuid.New().String()
		slog.Info("simulated email send",
			"to", strings.Join(m.To, ","),
			"subject", m.Subject,
			"message_id", id,
		)
		return &SendResult{Success: true, MessageID: id, Simulated: true}, nil
	}

	form := url.Values{}
	form.Set("from", m.From)
	form.Set("to", strings.Join(m.To, ","))
	form.Set("subject", m.Subject)
	form.Set("text", m.Text)
	if m.HTML != "" {
		form.Set("html", m.HTML)
	}
	if m.InReplyTo != "" {
		form.Set("h:In-Reply-To", "<"+strings.Trim(m.InReplyTo, "<>")+">")
	}
	if len(m.References) > 0 {
		refs := make([]string, 0, len(m.References))
		for _, r := range m.References {
			refs = append(refs, "<"+strings.Trim(r, "<>")+">")
		}
		form.Set("h:References", strings.Join(refs, " "))
	}
	for _, tag := range m.Tags {
		form.Add("o:tag", tag)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, c.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mail API returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}

	return &SendResult{
		Success:   true,
		MessageID: strings.Trim(result.ID, "<>"),
	}, nil
}

// CreateRoute provisions an inbound route (catch-all or per-assistant)
// on the provider. Simulated without credentials.
func (c *Client) CreateRoute(ctx context.Context, expression, forwardTo string, priority int) error {
	if !c.Live() {
		slog.Info("simulated route creation",
			"expression", expression,
			"forward_to", forwardTo,
			"priority", priority,
		)
		return nil
	}

	form := url.Values{}
	form.Set("priority", strconv.Itoa(priority))
	form.Set("expression", expression)
	form.Add("action", fmt.Sprintf("forward(%q)", forwardTo))
	form.Add("action", "stop()")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/routes", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build route request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("create route: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("route API returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// ValidateSignature verifies the provider's webhook signature:
// HMAC-SHA256 over timestamp+token with the signing key. Without a
// signing key validation degrades to always-pass (dev/simulated mode).
func (c *Client) ValidateSignature(timestamp, token, signature string) bool {
	if c.signingKey == "" {
		return true
	}

	mac := hmac.New(sha256.New, []byte(c.signingKey))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(expected)
	return hmac.Equal(sig, want)
}
