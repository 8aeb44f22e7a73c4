package http

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

func TestAgentConfigRoutes(t *testing.T) {
	f := newAPIFixture(t, true, channels.DefaultRateLimitConfig())

	assert.Equal(t, http.StatusNotFound, f.do("GET", "/v1/agent", "", f.operator()).Code)

	rec := f.do("PUT", "/v1/agent", `{
		"name": "Ava", "active": true, "instructions": "Be kind.",
		"settings": {"maxChunks": 4, "typingSimulation": false},
		"channels": {"internal": true}
	}`, f.operator())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view struct {
		Agent    store.AgentConfig       `json:"agent"`
		Settings store.BehaviorSettings  `json:"settings"`
		Channels store.ChannelEnablement `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Ava", view.Agent.Name)
	assert.True(t, view.Agent.Active)
	assert.Equal(t, 4, view.Settings.MaxChunks)
	assert.False(t, view.Settings.TypingSimulation)
	assert.Equal(t, 1500, view.Settings.ResponseDelayMs, "unspecified settings keep defaults")
	assert.True(t, view.Channels[store.ChannelInternal])
	assert.False(t, view.Channels[store.ChannelWhatsApp])

	// Partial update keeps everything else.
	rec = f.do("PUT", "/v1/agent", `{"active": false, "channels": {"whatsapp": true}}`, f.operator())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.False(t, view.Agent.Active)
	assert.Equal(t, "Be kind.", view.Agent.Instructions)
	assert.Equal(t, 4, view.Settings.MaxChunks)
	assert.True(t, view.Channels[store.ChannelWhatsApp])
}

func TestAgentConfigValidation(t *testing.T) {
	f := newAPIFixture(t, true, channels.DefaultRateLimitConfig())

	rec := f.do("PUT", "/v1/agent", `{"name":"x","settings":{"maxChunks":0,"responseDelayMs":-5}}`, f.operator())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Fields, "maxChunks")
	assert.Contains(t, body.Fields, "responseDelayMs")

	// Nothing was persisted.
	assert.Equal(t, http.StatusNotFound, f.do("GET", "/v1/agent", "", f.operator()).Code)

	rec = f.do("PUT", "/v1/agent", `{"channels":{"sms":true}}`, f.operator())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
