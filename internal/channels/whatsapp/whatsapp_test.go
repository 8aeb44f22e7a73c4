package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/store"
	"github.com/nextlevelbuilder/goinbox/internal/store/mem"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantErr   error
		wantChat  string
		wantText  string
		wantKinds []store.MediaKind
		wantName  string
	}{
		{
			name:     "evolution conversation",
			payload:  `{"event":"messages.upsert","data":{"key":{"remoteJid":"5511999@s.whatsapp.net","id":"ABC"},"pushName":"Ana","message":{"conversation":" oi "}}}`,
			wantChat: "5511999", wantText: "oi", wantName: "Ana",
		},
		{
			name:     "evolution uppercase event and extended text",
			payload:  `{"event":"MESSAGES_UPSERT","data":{"key":{"remoteJid":"5511@s.whatsapp.net"},"message":{"extendedTextMessage":{"text":"hello"}}}}`,
			wantChat: "5511", wantText: "hello", wantName: "5511",
		},
		{
			name:      "evolution audio only",
			payload:   `{"event":"messages.upsert","data":{"key":{"remoteJid":"55@s.whatsapp.net"},"message":{"audioMessage":{"seconds":3}}}}`,
			wantChat:  "55",
			wantKinds: []store.MediaKind{store.MediaAudio},
			wantName:  "55",
		},
		{
			name:      "evolution image with caption",
			payload:   `{"event":"messages.upsert","data":{"key":{"remoteJid":"55@s.whatsapp.net"},"message":{"imageMessage":{"caption":"look"}}}}`,
			wantChat:  "55", wantText: "look",
			wantKinds: []store.MediaKind{store.MediaImage},
			wantName:  "55",
		},
		{
			name:    "evolution from me",
			payload: `{"event":"messages.upsert","data":{"key":{"remoteJid":"55@s.whatsapp.net","fromMe":true},"message":{"conversation":"x"}}}`,
			wantErr: channels.ErrIgnored,
		},
		{
			name:    "evolution group",
			payload: `{"event":"messages.upsert","data":{"key":{"remoteJid":"123-456@g.us"},"message":{"conversation":"x"}}}`,
			wantErr: channels.ErrIgnored,
		},
		{
			name:    "evolution other event",
			payload: `{"event":"connection.update","data":{}}`,
			wantErr: channels.ErrIgnored,
		},
		{
			name:     "bridge text",
			payload:  `{"type":"message","from":"5521@s.whatsapp.net","chat":"5521@s.whatsapp.net","content":"hi","id":"m1","from_name":"Bo"}`,
			wantChat: "5521", wantText: "hi", wantName: "Bo",
		},
		{
			name:      "bridge media",
			payload:   `{"type":"message","from":"5521","content":"","media":["/tmp/a.ogg","/tmp/b.JPG","/tmp/c.opus"]}`,
			wantChat:  "5521",
			wantKinds: []store.MediaKind{store.MediaAudio, store.MediaImage},
			wantName:  "5521",
		},
		{
			name:    "bridge status broadcast",
			payload: `{"type":"message","from":"55","chat":"status@broadcast","content":"x"}`,
			wantErr: channels.ErrIgnored,
		},
		{
			name:    "bridge empty",
			payload: `{"type":"message","from":"55","content":"   "}`,
			wantErr: channels.ErrIgnored,
		},
		{
			name:    "bridge receipt",
			payload: `{"type":"receipt","from":"55"}`,
			wantErr: channels.ErrIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize([]byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if got.ExternalChatID != tt.wantChat || got.Text != tt.wantText || got.DisplayName != tt.wantName {
				t.Errorf("got %+v", got)
			}
			if len(got.MediaKinds) != len(tt.wantKinds) {
				t.Fatalf("kinds = %v, want %v", got.MediaKinds, tt.wantKinds)
			}
			for i := range tt.wantKinds {
				if got.MediaKinds[i] != tt.wantKinds[i] {
					t.Errorf("kinds = %v, want %v", got.MediaKinds, tt.wantKinds)
				}
			}
		})
	}
}

func TestNormalizeMalformed(t *testing.T) {
	for _, p := range []string{`not json`, `{}`, `{"event":"messages.upsert","data":{"key":{},"message":{"conversation":"x"}}}`} {
		_, err := Normalize([]byte(p))
		if err == nil || errors.Is(err, channels.ErrIgnored) {
			t.Errorf("Normalize(%s) err = %v, want parse error", p, err)
		}
	}
}

func TestClientSendText(t *testing.T) {
	var gotPath, gotKey string
	var gotBody sendTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"key":{"id":"EXT-1"},"status":"PENDING"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL + "/", APIKey: "k", InstanceID: "inst", RatePerSecond: 100})
	res, err := c.SendText(context.Background(), "5511", "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if !res.OK || res.ExternalID != "EXT-1" {
		t.Errorf("result = %+v", res)
	}
	if gotPath != "/message/sendText/inst" || gotKey != "k" {
		t.Errorf("path=%q apikey=%q", gotPath, gotKey)
	}
	if gotBody.Number != "5511" || gotBody.Text != "hello" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestClientSendTextRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"instance not connected"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, InstanceID: "i", RatePerSecond: 100})
	res, err := c.SendText(context.Background(), "1", "x")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.OK || res.Error == "" {
		t.Errorf("result = %+v, want failure with error text", res)
	}
}

func TestAdapterSendsThroughLinkedConnection(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"key":{"id":"x"}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	s := mem.New()
	tenant := uuid.New()
	conn := &store.ExternalConnection{TenantID: tenant, BaseURL: srv.URL, InstanceID: "i"}
	if err := s.CreateConnection(ctx, conn); err != nil {
		t.Fatal(err)
	}
	th := &store.Thread{TenantID: tenant, ChannelType: store.ChannelWhatsApp}
	_ = s.CreateThread(ctx, th)
	if _, err := s.UpsertContactLink(ctx, &store.ExternalContactLink{
		TenantID: tenant, ConnectionID: conn.ID, ExternalChatID: "5511", ThreadID: th.ID,
	}); err != nil {
		t.Fatal(err)
	}

	a := NewAdapter(s, AdapterConfig{RatePerSecond: 100})
	if err := a.SendOutgoingMessage(ctx, tenant, th, "hi"); err != nil {
		t.Fatalf("SendOutgoingMessage: %v", err)
	}
	if hits != 1 {
		t.Errorf("bridge hits = %d, want 1", hits)
	}

	if err := a.SendOutgoingMessage(ctx, uuid.New(), th, "hi"); err == nil {
		t.Error("send for another tenant should fail")
	}

	orphan := &store.Thread{TenantID: tenant, ChannelType: store.ChannelWhatsApp}
	_ = s.CreateThread(ctx, orphan)
	if err := a.SendOutgoingMessage(ctx, tenant, orphan, "hi"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unlinked thread err = %v, want ErrNotFound", err)
	}
}
