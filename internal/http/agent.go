package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/agent"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// AgentHandler serves the tenant's agent configuration.
type AgentHandler struct {
	agents store.AgentStore
	token  string
}

func NewAgentHandler(agents store.AgentStore, token string) *AgentHandler {
	return &AgentHandler{agents: agents, token: token}
}

func (h *AgentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/agent", operatorAuth(h.token, h.handleGet))
	mux.HandleFunc("PUT /v1/agent", operatorAuth(h.token, h.handlePut))
}

type agentView struct {
	Agent    *store.AgentConfig      `json:"agent"`
	Settings *store.BehaviorSettings `json:"settings"`
	Channels store.ChannelEnablement `json:"channels"`
}

// agentUpdate is the PUT body. Settings is merged over the stored settings, so
// omitted fields keep their values.
type agentUpdate struct {
	Name                     *string         `json:"name"`
	Active                   *bool           `json:"active"`
	Instructions             *string         `json:"instructions"`
	SupplementalInstructions *string         `json:"supplemental_instructions"`
	Settings                 json.RawMessage `json:"settings"`
	Channels                 map[string]bool `json:"channels"`
}

func (h *AgentHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.agents.GetAgentByTenant(ctx, store.TenantIDFromContext(ctx))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	view, err := h.view(r, cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AgentHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := store.TenantIDFromContext(ctx)

	var req agentUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	for name := range req.Channels {
		if !store.ChannelType(name).Valid() {
			writeError(w, http.StatusBadRequest, "unknown channel: "+name)
			return
		}
	}

	cfg, err := h.agents.GetAgentByTenant(ctx, tenantID)
	isNew := errors.Is(err, store.ErrNotFound)
	if err != nil && !isNew {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if isNew {
		cfg = &store.AgentConfig{TenantID: tenantID}
	}

	settings := store.DefaultBehaviorSettings(uuid.Nil)
	if !isNew {
		current, err := h.agents.GetBehaviorSettings(ctx, cfg.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		settings = *current
	}
	if len(req.Settings) > 0 {
		if err := json.Unmarshal(req.Settings, &settings); err != nil {
			writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
			return
		}
	}
	if err := agent.ValidateSettings(&settings); err != nil {
		var verr *agent.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid settings", "fields": verr.Fields})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Name != nil {
		cfg.Name = strings.TrimSpace(*req.Name)
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}
	if req.Instructions != nil {
		cfg.Instructions = *req.Instructions
	}
	if req.SupplementalInstructions != nil {
		cfg.SupplementalInstructions = *req.SupplementalInstructions
	}
	if err := h.agents.UpsertAgent(ctx, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	settings.AgentID = cfg.ID
	if err := h.agents.UpdateBehaviorSettings(ctx, &settings); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for name, enabled := range req.Channels {
		if err := h.agents.SetChannelEnabled(ctx, cfg.ID, store.ChannelType(name), enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	slog.Info("agent.config_updated", "tenant_id", tenantID, "agent_id", cfg.ID, "created", isNew)

	view, err := h.view(r, cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, view)
}

func (h *AgentHandler) view(r *http.Request, cfg *store.AgentConfig) (*agentView, error) {
	settings, err := h.agents.GetBehaviorSettings(r.Context(), cfg.ID)
	if err != nil {
		return nil, err
	}
	en, err := h.agents.GetChannelEnablement(r.Context(), cfg.ID)
	if err != nil {
		return nil, err
	}
	return &agentView{Agent: cfg, Settings: settings, Channels: en}, nil
}
