package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/inbox"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// ThreadsHandler serves operator actions on conversation threads.
type ThreadsHandler struct {
	svc      *inbox.Service
	composer channels.Adapter // parses compose bodies for the in-app surface
	token    string
}

func NewThreadsHandler(svc *inbox.Service, composer channels.Adapter, token string) *ThreadsHandler {
	return &ThreadsHandler{svc: svc, composer: composer, token: token}
}

func (h *ThreadsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/threads/{id}/messages", operatorAuth(h.token, h.handleListMessages))
	mux.HandleFunc("POST /v1/threads/{id}/messages", operatorAuth(h.token, h.handleSend))
	mux.HandleFunc("PUT /v1/threads/{id}/handoff", operatorAuth(h.token, h.handleHandoff(true)))
	mux.HandleFunc("DELETE /v1/threads/{id}/handoff", operatorAuth(h.token, h.handleHandoff(false)))
	mux.HandleFunc("PUT /v1/threads/{id}/status", operatorAuth(h.token, h.handleStatus))
}

func (h *ThreadsHandler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid thread id")
		return
	}
	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxMessageLimit)
	}

	msgs, err := h.svc.Messages(r.Context(), store.TenantIDFromContext(r.Context()), id, limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (h *ThreadsHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid thread id")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	in, err := h.composer.NormalizeIncomingMessage(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	ctx := r.Context()
	msg, err := h.svc.Send(ctx, store.TenantIDFromContext(ctx), id, store.UserIDFromContext(ctx), in.Text)
	if err != nil {
		if errors.Is(err, inbox.ErrEmptyContent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ThreadsHandler) handleHandoff(handedOff bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid thread id")
			return
		}
		ctx := r.Context()
		if err := h.svc.SetHandoff(ctx, store.TenantIDFromContext(ctx), id, handedOff, store.UserIDFromContext(ctx)); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"thread_id": id, "handed_off": handedOff})
	}
}

func (h *ThreadsHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid thread id")
		return
	}
	var body struct {
		Status store.ThreadStatus `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	ctx := r.Context()
	if err := h.svc.SetStatus(ctx, store.TenantIDFromContext(ctx), id, body.Status); err != nil {
		if errors.Is(err, inbox.ErrInvalidStatus) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"thread_id": id, "status": body.Status})
}
