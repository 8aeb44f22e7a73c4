package http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

func (f *apiFixture) operator() map[string]string {
	return map[string]string{
		"Authorization": "Bearer tok",
		"X-Tenant-ID":   f.tenant.String(),
		"X-User-ID":     "op-1",
	}
}

func (f *apiFixture) internalThread(t *testing.T) *store.Thread {
	t.Helper()
	th := &store.Thread{TenantID: f.tenant, ChannelType: store.ChannelInternal, Name: "team"}
	require.NoError(t, f.mem.CreateThread(context.Background(), th))
	return th
}

func TestSendMessageRoute(t *testing.T) {
	f := newAPIFixture(t, true, channels.DefaultRateLimitConfig())
	th := f.internalThread(t)
	path := "/v1/threads/" + th.ID.String() + "/messages"

	rec := f.do("POST", path, `{"content":"hello team"}`, f.operator())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var msg store.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "hello team", msg.Content)
	assert.Equal(t, "op-1", msg.SenderID)
	require.Len(t, f.runs.guarded, 1)

	rec = f.do("GET", path+"?limit=10", "", f.operator())
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Messages []store.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Messages, 1)
}

func TestSendMessageRejects(t *testing.T) {
	f := newAPIFixture(t, true, channels.DefaultRateLimitConfig())
	th := f.internalThread(t)
	path := "/v1/threads/" + th.ID.String() + "/messages"

	assert.Equal(t, http.StatusUnauthorized, f.do("POST", path, `{"content":"x"}`, map[string]string{"X-Tenant-ID": f.tenant.String()}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("POST", path, `{"content":"x"}`, map[string]string{"Authorization": "Bearer tok"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("POST", path, `{"content":"  "}`, f.operator()).Code)
	assert.Equal(t, http.StatusNotFound, f.do("POST", "/v1/threads/"+uuid.NewString()+"/messages", `{"content":"x"}`, f.operator()).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("POST", "/v1/threads/nope/messages", `{"content":"x"}`, f.operator()).Code)
	assert.Empty(t, f.runs.guarded)
}

func TestHandoffAndStatusRoutes(t *testing.T) {
	f := newAPIFixture(t, true, channels.DefaultRateLimitConfig())
	th := f.internalThread(t)
	base := "/v1/threads/" + th.ID.String()
	ctx := context.Background()

	require.Equal(t, http.StatusOK, f.do("PUT", base+"/handoff", "", f.operator()).Code)
	h, _ := f.mem.GetHandoff(ctx, th.ID)
	assert.True(t, h.HandedOff)
	assert.Equal(t, "op-1", h.Actor)

	require.Equal(t, http.StatusOK, f.do("DELETE", base+"/handoff", "", f.operator()).Code)
	h, _ = f.mem.GetHandoff(ctx, th.ID)
	assert.False(t, h.HandedOff)

	require.Equal(t, http.StatusOK, f.do("PUT", base+"/status", `{"status":"archived"}`, f.operator()).Code)
	got, _ := f.mem.GetThread(ctx, th.ID)
	assert.Equal(t, store.ThreadArchived, got.Status)

	assert.Equal(t, http.StatusBadRequest, f.do("PUT", base+"/status", `{"status":"gone"}`, f.operator()).Code)

	other := f.operator()
	other["X-Tenant-ID"] = uuid.NewString()
	assert.Equal(t, http.StatusNotFound, f.do("PUT", base+"/handoff", "", other).Code)
}
