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

// Package webhook receives inbound email notifications from the mail
// provider. The provider parses MIME on its side and POSTs a form with
// decoded headers, bodies, and attachments; this handler verifies the
// payload signature, suppresses redeliveries, and hands the message to
// the normalization and routing pipeline.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/copp1723/team-crm-ingest/internal/dispatch"
	"github.com/copp1723/team-crm-ingest/internal/models"
	"github.com/copp1723/team-crm-ingest/internal/normalize"
	"github.com/copp1723/team-crm-ingest/internal/route"
)

// maxFormMemory bounds the in-memory portion of a multipart parse;
// larger attachment bodies spill to temp files.
const maxFormMemory = 16 << 20

// SignatureValidator checks the provider's webhook signature.
type SignatureValidator interface {
	ValidateSignature(timestamp, token, signature string) bool
}

// Deduper suppresses provider redeliveries of the same message.
type Deduper interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
}

// Parker persists messages that could not enter the pipeline.
type Parker interface {
	SaveUnrouted(ctx context.Context, raw models.InboundEmail, reason string) error
}

// Handler processes inbound email webhook requests.
type Handler struct {
	normalizer *normalize.Normalizer
	resolver   *route.Resolver
	engine     *route.Engine
	validator  SignatureValidator
	filter     Deduper
	parker     Parker

	assistantQueue *dispatch.Queue
	generalQueue   *dispatch.Queue

	// health probes, keyed by dependency name
	checks map[string]func(ctx context.Context) error
}

// NewHandler creates an inbound email handler.
func NewHandler(
	normalizer *normalize.Normalizer,
	resolver *route.Resolver,
	engine *route.Engine,
	validator SignatureValidator,
	filter Deduper,
	parker Parker,
	assistantQueue, generalQueue *dispatch.Queue,
) *Handler {
	return &Handler{
		normalizer:     normalizer,
		resolver:       resolver,
		engine:         engine,
		validator:      validator,
		filter:         filter,
		parker:         parker,
		assistantQueue: assistantQueue,
		generalQueue:   generalQueue,
		checks:         map[string]func(ctx context.Context) error{},
	}
}

// AddHealthCheck registers a dependency probe reported by /health.
func (h *Handler) AddHealthCheck(name string, check func(ctx context.Context) error) {
	h.checks[name] = check
}

// ServeEmail handles the general inbound endpoint.
//
// Flow:
//   - Parse the provider's form payload
//   - Verify the webhook signature (406 on mismatch so the provider
//     stops retrying)
//   - Suppress redeliveries via the dedup filter
//   - Respond 202 Accepted immediately; route in the background
func (h *Handler) ServeEmail(w http.ResponseWriter, r *http.Request) {
	h.serveInbound(w, r, h.generalQueue)
}

// ServeAssistant handles mail addressed to a member's virtual inbox.
// Same flow as ServeEmail but dispatched on the assistant queue so
// assistant traffic keeps its own FIFO ordering.
func (h *Handler) ServeAssistant(w http.ResponseWriter, r *http.Request) {
	h.serveInbound(w, r, h.assistantQueue)
}

func (h *Handler) serveInbound(w http.ResponseWriter, r *http.Request, q *dispatch.Queue) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw, sig, err := parseInbound(r)
	if err != nil {
		slog.Warn("unparseable webhook payload", "error", err)
		// Accept it anyway; the provider retries malformed-looking
		// payloads forever otherwise.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if !h.validator.ValidateSignature(sig.timestamp, sig.token, sig.signature) {
		slog.Warn("webhook signature mismatch", "from", raw.From)
		// Mailgun treats 406 as a permanent rejection.
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	dedupKey := raw.MessageID
	if dedupKey == "" {
		dedupKey = sig.token
	}
	if dedupKey != "" {
		isNew, err := h.filter.IsNew(r.Context(), dedupKey)
		if err != nil {
			slog.Warn("dedup check failed, proceeding", "error", err)
		} else if !isNew {
			slog.Debug("suppressing redelivered message", "message_id", dedupKey)
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}

	// Respond immediately; the provider expects a fast ack.
	w.WriteHeader(http.StatusAccepted)

	go h.process(context.Background(), raw, q)
}

// process runs one message through normalize → resolve → decide and
// enqueues the result.
func (h *Handler) process(ctx context.Context, raw models.InboundEmail, q *dispatch.Queue) {
	msg := h.normalizer.Normalize(raw)

	recipient, err := h.resolver.Resolve(ctx, msg)
	if err != nil {
		// Resolution degraded, not fatal; the dispatcher falls back to
		// the catch-all or parks the message.
		slog.Warn("recipient resolution failed",
			"message_id", msg.MessageID,
			"error", err,
		)
	}

	decision := h.engine.Decide(msg, recipient)

	slog.Info("message routed",
		"message_id", msg.MessageID,
		"from", msg.From.Address,
		"action", decision.Action,
		"priority", decision.Priority,
		"recipient", recipientName(recipient),
	)

	if err := q.Enqueue(dispatch.Entry{
		Message:   msg,
		Decision:  decision,
		Recipient: recipient,
		Raw:       raw,
	}); err != nil {
		slog.Error("dispatch queue saturated, parking message",
			"message_id", msg.MessageID,
			"error", err,
		)
		if perr := h.parker.SaveUnrouted(ctx, raw, "queue saturated"); perr != nil {
			slog.Error("failed to park message", "message_id", msg.MessageID, "error", perr)
		}
	}
}

// ServeHealth reports liveness plus the state of each registered
// dependency probe.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := `{"status":"ok"`
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			status = http.StatusServiceUnavailable
			body += `,"` + name + `":"down"`
		} else {
			body += `,"` + name + `":"up"`
		}
	}
	body += "}"

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func recipientName(rec *models.AssistantRecord) string {
	if rec == nil {
		return ""
	}
	return rec.Name
}

// Serve starts the webhook HTTP server on the given port. It binds the
// port immediately and signals readiness via the returned channel before
// accepting connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/email", handler.ServeEmail)
	mux.HandleFunc("/webhooks/assistant", handler.ServeAssistant)
	mux.HandleFunc("/health", handler.ServeHealth)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}

// inboundSignature is the provider's HMAC triple.
type inboundSignature struct {
	timestamp string
	token     string
	signature string
}

// parseInbound decodes the provider's inbound form (urlencoded or
// multipart) into the raw email shape.
func parseInbound(r *http.Request) (models.InboundEmail, inboundSignature, error) {
	var sig inboundSignature

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		if err := r.ParseForm(); err != nil {
			return models.InboundEmail{}, sig, fmt.Errorf("parse inbound form: %w", err)
		}
	}

	form := r.Form
	sig = inboundSignature{
		timestamp: form.Get("timestamp"),
		token:     form.Get("token"),
		signature: form.Get("signature"),
	}

	raw := models.InboundEmail{
		MessageID:  firstOf(form.Get("Message-Id"), form.Get("message-id")),
		From:       form.Get("from"),
		To:         firstOf(form.Get("recipient"), form.Get("To")),
		CC:         form.Get("Cc"),
		BCC:        form.Get("Bcc"),
		ReplyTo:    form.Get("Reply-To"),
		Subject:    form.Get("subject"),
		BodyPlain:  form.Get("body-plain"),
		BodyHTML:   form.Get("body-html"),
		InReplyTo:  form.Get("In-Reply-To"),
		References: form.Get("References"),
		Headers:    map[string]string{},
		ReceivedAt: time.Now().UTC(),
	}
	if ts, err := strconv.ParseInt(sig.timestamp, 10, 64); err == nil {
		raw.ReceivedAt = time.Unix(ts, 0).UTC()
	}

	for _, name := range []string{"X-Priority", "Importance", "Auto-Submitted", "Precedence", "X-Autoreply", "X-Autorespond"} {
		if v := form.Get(name); v != "" {
			raw.Headers[name] = v
		}
	}

	raw.Attachments = parseAttachments(r)

	if raw.From == "" && raw.To == "" && raw.Subject == "" {
		return models.InboundEmail{}, sig, fmt.Errorf("empty inbound payload")
	}
	return raw, sig, nil
}

// parseAttachments reads multipart attachment files ("attachment-1",
// "attachment-2", ...). Size and type filtering happens later in the
// normalizer; here we only carry the bytes.
func parseAttachments(r *http.Request) []models.Attachment {
	if r.MultipartForm == nil {
		return nil
	}

	count := 0
	if v := r.Form.Get("attachment-count"); v != "" {
		count, _ = strconv.Atoi(v)
	}
	if count == 0 {
		count = len(r.MultipartForm.File)
	}

	var out []models.Attachment
	for i := 1; i <= count; i++ {
		headers := r.MultipartForm.File[fmt.Sprintf("attachment-%d", i)]
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]

		f, err := fh.Open()
		if err != nil {
			slog.Warn("failed to open attachment", "filename", fh.Filename, "error", err)
			continue
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Warn("failed to read attachment", "filename", fh.Filename, "error", err)
			continue
		}

		out = append(out, models.Attachment{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        len(content),
			Content:     content,
		})
	}
	return out
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
