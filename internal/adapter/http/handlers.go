package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sablehq/parley/internal/domain"
	"github.com/sablehq/parley/internal/domain/run"
	"github.com/sablehq/parley/internal/driver"
	"github.com/sablehq/parley/internal/forms"
	"github.com/sablehq/parley/internal/normalize"
	"github.com/sablehq/parley/internal/port/agentgateway"
)

// Handlers bundles the proxy endpoints and the hosted chat surface.
type Handlers struct {
	gw       agentgateway.Gateway
	drv      *driver.Driver
	sessions *driver.Registry
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(gw agentgateway.Gateway, drv *driver.Driver, sessions *driver.Registry) *Handlers {
	return &Handlers{gw: gw, drv: drv, sessions: sessions}
}

// threadRunsResponse is the POST /api/threads-runs response body.
type threadRunsResponse struct {
	Thread threadRef `json:"thread"`
	Run    *run.Run  `json:"run"`
}

type threadRef struct {
	ID string `json:"id"`
}

// CreateThreadAndRun accepts {text} / {message} / {input} or the legacy
// nested payload shape, resolves the user utterance, and creates a new
// thread plus its first run.
func (h *Handlers) CreateThreadAndRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	text := normalize.OutboundText(body)
	if text == "" {
		writeProxyError(w, domain.MissingField("text"))
		return
	}

	threadID, rn, err := h.gw.CreateThreadAndRun(r.Context(), text)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadRunsResponse{
		Thread: threadRef{ID: threadID},
		Run:    rn,
	})
}

// AppendMessage posts a user message onto an existing thread.
func (h *Handlers) AppendMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		ThreadID string `json:"threadId"`
		Content  string `json:"content"`
	}](w, r)
	if !ok {
		return
	}

	id, err := h.gw.AppendMessage(r.Context(), req.ThreadID, req.Content)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

// StartRun starts a run on an existing thread.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		ThreadID string `json:"threadId"`
	}](w, r)
	if !ok {
		return
	}

	rn, err := h.gw.StartRun(r.Context(), req.ThreadID)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

// RunStatus returns the current status of a run.
func (h *Handlers) RunStatus(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("threadId")
	runID := r.URL.Query().Get("runId")

	status, err := h.gw.GetRunStatus(r.Context(), threadID, runID)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// messagePayload is one normalized message in the GET /api/messages
// response: text already extracted and citation-stripped, re-wrapped in
// the single content shape the widget understands.
type messagePayload struct {
	Role      string        `json:"role"`
	CreatedAt int64         `json:"created_at"`
	Content   []contentPart `json:"content"`
}

type contentPart struct {
	Type string    `json:"type"`
	Text textValue `json:"text"`
}

type textValue struct {
	Value string `json:"value"`
}

// Messages lists all messages on a thread in normalized form.
func (h *Handlers) Messages(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("threadId")

	msgs, err := h.gw.ListMessages(r.Context(), threadID)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	data := make([]messagePayload, 0, len(msgs))
	for _, m := range msgs {
		data = append(data, messagePayload{
			Role:      string(m.Role),
			CreatedAt: m.CreatedAt,
			Content: []contentPart{
				{Type: "text", Text: textValue{Value: m.Text}},
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Ping is the liveness probe.
func (h *Handlers) Ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":  true,
		"now": time.Now().UTC().Format(time.RFC3339),
	})
}

// Chat runs one hosted conversation turn end to end: session lookup,
// lifecycle, normalization, feedback detection.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}](w, r)
	if !ok {
		return
	}

	s := h.sessions.GetOrCreate(req.SessionID)
	result, err := h.drv.SendTurn(r.Context(), s, req.Text)
	if err != nil {
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Rating submits a 1..5 rating for the session's open feedback capture.
func (h *Handlers) Rating(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		SessionID string `json:"sessionId"`
		Rating    int    `json:"rating"`
	}](w, r)
	if !ok {
		return
	}

	s := h.sessions.Get(req.SessionID)
	if s == nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	result, err := h.drv.SubmitRating(r.Context(), s, req.Rating)
	if err != nil {
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// form is a widget data-collection fragment that renders a valid
// submission as a synthetic command turn.
type form interface {
	Validate() []string
	Command() string
}

// LoyaltyForm submits the loyalty-programme signup fragment.
func (h *Handlers) LoyaltyForm(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		SessionID string `json:"sessionId"`
		forms.LoyaltySignup
	}](w, r)
	if !ok {
		return
	}
	h.submitForm(w, r, req.LoyaltySignup, req.SessionID)
}

// OrderForm submits the order-tracking lookup fragment.
func (h *Handlers) OrderForm(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		SessionID string `json:"sessionId"`
		forms.OrderLookup
	}](w, r)
	if !ok {
		return
	}
	h.submitForm(w, r, req.OrderLookup, req.SessionID)
}

// CycleForm submits the Cycle-to-Work status lookup fragment.
func (h *Handlers) CycleForm(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		SessionID string `json:"sessionId"`
		forms.CycleLookup
	}](w, r)
	if !ok {
		return
	}
	h.submitForm(w, r, req.CycleLookup, req.SessionID)
}

// submitForm validates a fragment and, when clean, feeds its synthetic
// command into the turn protocol. Invalid submissions return the
// validation messages and never reach upstream.
func (h *Handlers) submitForm(w http.ResponseWriter, r *http.Request, f form, sessionID string) {
	if msgs := f.Validate(); len(msgs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"ok":       false,
			"messages": msgs,
		})
		return
	}

	s := h.sessions.GetOrCreate(sessionID)
	result, err := h.drv.SendTurn(r.Context(), s, f.Command())
	if err != nil {
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeTurnError extends the proxy taxonomy with turn serialization: a
// second turn while one is in flight is the caller's fault, not ours.
func writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTurnInFlight):
		writeError(w, http.StatusConflict, "a turn is already in progress")
	default:
		writeProxyError(w, err)
	}
}
