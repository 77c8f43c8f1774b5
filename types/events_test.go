package types //nolint:revive // types is a valid package name

import (
	"encoding/json"
	"testing"
)

func TestFrameType_IsTerminal(t *testing.T) {
	tests := []struct {
		frameType FrameType
		want      bool
	}{
		{FrameComplete, true},
		{FrameError, true},
		{FrameData, false},
		{FrameKeepAlive, false},
		{FrameConnectionAck, false},
		{FrameConnectionError, false},
		{FrameStart, false},
		{FrameStop, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.frameType), func(t *testing.T) {
			got := tt.frameType.IsTerminal()
			if got != tt.want {
				t.Errorf("FrameType(%q).IsTerminal() = %v, want %v", tt.frameType, got, tt.want)
			}
		})
	}
}

func TestFrame_OmitsEmptyIDAndPayload(t *testing.T) {
	b, err := json.Marshal(Frame{Type: FrameConnectionTerminate})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(b), `{"type":"connection_terminate"}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
