package agent

import "testing"

func TestSanitizeReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello!", "Hello!"},
		{"empty", "", ""},
		{"thinking stripped", "<think>plan the answer</think>\n\nSure, we open at 9.", "Sure, we open at 9."},
		{"final unwrapped", "<final>Done.</final>", "Done."},
		{"duplicate paragraph", "Hi there.\n\nHi there.\n\nBye.", "Hi there.\n\nBye."},
		{"only reasoning", "<thinking>x</thinking>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeReply(tt.in); got != tt.want {
				t.Errorf("SanitizeReply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
