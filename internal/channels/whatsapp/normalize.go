package whatsapp

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

const (
	groupSuffix     = "@g.us"
	statusBroadcast = "status@broadcast"
)

// evolutionEvent is the bridge's webhook envelope for message events.
type evolutionEvent struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type evolutionMessage struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		ImageMessage *struct {
			Caption string `json:"caption"`
		} `json:"imageMessage"`
		AudioMessage *json.RawMessage `json:"audioMessage"`
	} `json:"message"`
}

// bridgeMessage is the flat format: {"type":"message","from":"...","chat":"...",
// "content":"...","id":"...","from_name":"...","media":[...]}.
type bridgeMessage struct {
	Type     string   `json:"type"`
	From     string   `json:"from"`
	Chat     string   `json:"chat"`
	Content  string   `json:"content"`
	ID       string   `json:"id"`
	FromName string   `json:"from_name"`
	FromMe   bool     `json:"from_me"`
	Media    []string `json:"media"`
}

// Normalize parses an inbound webhook body in either supported format. Payloads that
// are valid but not ingestible return channels.ErrIgnored.
func Normalize(payload []byte) (*channels.NormalizedMessage, error) {
	var head struct {
		Event string `json:"event"`
		Type  string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("whatsapp: decode payload: %w", err)
	}

	switch {
	case head.Event != "":
		return normalizeEvolution(payload)
	case head.Type != "":
		return normalizeBridge(payload)
	default:
		return nil, fmt.Errorf("whatsapp: unrecognized payload")
	}
}

func normalizeEvolution(payload []byte) (*channels.NormalizedMessage, error) {
	var ev evolutionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("whatsapp: decode event: %w", err)
	}
	name := strings.ReplaceAll(strings.ToLower(ev.Event), "_", ".")
	if name != "messages.upsert" {
		return nil, channels.ErrIgnored
	}

	var m evolutionMessage
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		return nil, fmt.Errorf("whatsapp: decode message data: %w", err)
	}
	if m.Key.FromMe {
		return nil, channels.ErrIgnored
	}
	if err := checkChat(m.Key.RemoteJID); err != nil {
		return nil, err
	}

	out := &channels.NormalizedMessage{
		ExternalChatID: chatNumber(m.Key.RemoteJID),
		DisplayName:    strings.TrimSpace(m.PushName),
		ExternalID:     m.Key.ID,
	}
	switch {
	case m.Message.Conversation != "":
		out.Text = m.Message.Conversation
	case m.Message.ExtendedTextMessage != nil:
		out.Text = m.Message.ExtendedTextMessage.Text
	case m.Message.ImageMessage != nil:
		out.Text = m.Message.ImageMessage.Caption
		out.MediaKinds = append(out.MediaKinds, store.MediaImage)
	case m.Message.AudioMessage != nil:
		out.MediaKinds = append(out.MediaKinds, store.MediaAudio)
	}
	return finish(out)
}

func normalizeBridge(payload []byte) (*channels.NormalizedMessage, error) {
	var m bridgeMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("whatsapp: decode bridge message: %w", err)
	}
	if m.Type != "message" || m.FromMe || m.From == "" {
		return nil, channels.ErrIgnored
	}
	chat := m.Chat
	if chat == "" {
		chat = m.From
	}
	if err := checkChat(chat); err != nil {
		return nil, err
	}

	out := &channels.NormalizedMessage{
		ExternalChatID: chatNumber(chat),
		DisplayName:    strings.TrimSpace(m.FromName),
		Text:           m.Content,
		ExternalID:     m.ID,
	}
	for _, path := range m.Media {
		if k, ok := mediaKindOf(path); ok {
			out.MediaKinds = appendKind(out.MediaKinds, k)
		}
	}
	return finish(out)
}

func checkChat(jid string) error {
	if jid == "" {
		return fmt.Errorf("whatsapp: missing chat id")
	}
	if jid == statusBroadcast || strings.HasSuffix(jid, groupSuffix) {
		return channels.ErrIgnored
	}
	return nil
}

func finish(m *channels.NormalizedMessage) (*channels.NormalizedMessage, error) {
	m.Text = strings.TrimSpace(m.Text)
	if m.Text == "" && len(m.MediaKinds) == 0 {
		return nil, channels.ErrIgnored
	}
	if m.DisplayName == "" {
		m.DisplayName = m.ExternalChatID
	}
	return m, nil
}

// chatNumber strips the JID domain: "5511999@s.whatsapp.net" -> "5511999".
func chatNumber(jid string) string {
	if i := strings.IndexByte(jid, '@'); i > 0 {
		return jid[:i]
	}
	return jid
}

func mediaKindOf(path string) (store.MediaKind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".oga", ".opus", ".mp3", ".m4a", ".aac", ".wav", ".amr":
		return store.MediaAudio, true
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".heic":
		return store.MediaImage, true
	}
	return "", false
}

func appendKind(kinds []store.MediaKind, k store.MediaKind) []store.MediaKind {
	for _, existing := range kinds {
		if existing == k {
			return kinds
		}
	}
	return append(kinds, k)
}
