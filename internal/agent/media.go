package agent

import (
	"strings"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// Placeholders stored as the content of inbound messages that carried only media.
const (
	PlaceholderAudio = "[audio]"
	PlaceholderImage = "[image]"
)

// MediaApology is sent instead of a generated reply when the latest inbound message
// is media the runtime cannot read yet.
const MediaApology = "Sorry, I can't open audio or image messages yet. Could you send your question as text?"

// MediaPlaceholder returns the stored content for a media-only message, or "" when
// kinds carries nothing recognized. Audio wins when both are present.
func MediaPlaceholder(kinds []store.MediaKind) string {
	var image bool
	for _, k := range kinds {
		switch k {
		case store.MediaAudio:
			return PlaceholderAudio
		case store.MediaImage:
			image = true
		}
	}
	if image {
		return PlaceholderImage
	}
	return ""
}

// IsMediaPlaceholder reports whether content is exactly one of the media placeholders.
func IsMediaPlaceholder(content string) bool {
	switch strings.TrimSpace(content) {
	case PlaceholderAudio, PlaceholderImage:
		return true
	}
	return false
}
