package types //nolint:revive // types is a valid package name

import (
	"strings"
	"testing"
)

func TestFrame_Terminated(t *testing.T) {
	tests := []struct {
		name       string
		frame      Frame
		terminated bool
		truncated  bool
	}{
		{"newline", Frame("hello\n"), true, false},
		{"partial", Frame("hello"), false, false},
		{"empty", Frame(nil), false, false},
		{"capped", Frame(strings.Repeat("a", MaxFrameSize)), false, true},
		{"capped with newline", Frame(strings.Repeat("a", MaxFrameSize-1) + "\n"), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.Terminated(); got != tt.terminated {
				t.Errorf("Terminated() = %v, want %v", got, tt.terminated)
			}
			if got := tt.frame.Truncated(); got != tt.truncated {
				t.Errorf("Truncated() = %v, want %v", got, tt.truncated)
			}
		})
	}
}

func TestFrame_Text(t *testing.T) {
	f := Frame("hello\n")
	if f.Text() != "hello\n" {
		t.Errorf("Text() = %q, want %q", f.Text(), "hello\n")
	}
	if f.Trimmed() != "hello" {
		t.Errorf("Trimmed() = %q, want %q", f.Trimmed(), "hello")
	}
}

func TestPipeMapping_String(t *testing.T) {
	m := PipeMapping{Label: "alerts", Path: "/var/dispipe/alerts.fifo", ChannelID: 123}
	if got := m.String(); got != "/var/dispipe/alerts.fifo -> #123" {
		t.Errorf("String() = %q", got)
	}
}

func TestPipePath(t *testing.T) {
	if got := PipePath("/var/dispipe", "alerts.fifo"); got != "/var/dispipe/alerts.fifo" {
		t.Errorf("PipePath() = %q", got)
	}
}
