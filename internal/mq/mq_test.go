package mq

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// --- Message Tests ---

func TestParsePayload_Control(t *testing.T) {
	runID := uuid.New()
	msg := newMessage(MessageTypeControl, ControlPayload{RunID: runID, Command: "pause"})

	// Имитируем доставку: конверт проходит через JSON
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var delivered Message
	if err := json.Unmarshal(body, &delivered); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	payload, err := ParsePayload[ControlPayload](&delivered)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.RunID != runID || payload.Command != "pause" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if delivered.Type != MessageTypeControl {
		t.Errorf("expected %s, got %s", MessageTypeControl, delivered.Type)
	}
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	a := newMessage(MessageTypeEvent, EventPayload{Kind: "task-started"})
	b := newMessage(MessageTypeEvent, EventPayload{Kind: "task-started"})
	if a.ID == b.ID {
		t.Error("message IDs must be unique")
	}
	if a.Timestamp.IsZero() {
		t.Error("timestamp must be set")
	}
}

func TestTopologyInfo(t *testing.T) {
	info := TopologyInfo()
	for _, name := range []string{string(ExchangeEvents), string(ExchangeControl), string(QueueControlCommands)} {
		if !strings.Contains(info, name) {
			t.Errorf("topology info does not mention %s", name)
		}
	}
}

// --- Consumer Tests ---

func TestSettle(t *testing.T) {
	transient := errors.New("run busy")
	permanent := fmt.Errorf("unknown run: %w", ErrPermanent)

	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        outcome
	}{
		{"success", nil, false, outcomeAck},
		{"success after redelivery", nil, true, outcomeAck},
		{"transient first time", transient, false, outcomeRequeue},
		{"transient redelivered", transient, true, outcomeDeadLetter},
		{"permanent", permanent, false, outcomeDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := settle(tt.err, tt.redelivered); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParsePayload_Undelivered(t *testing.T) {
	msg := newMessage(MessageTypeControl, ControlPayload{Command: "stop"})

	payload, err := ParsePayload[ControlPayload](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Command != "stop" {
		t.Errorf("expected stop, got %q", payload.Command)
	}
}

func TestParsePayload_Mismatch(t *testing.T) {
	msg := Message{Type: MessageTypeControl, Payload: json.RawMessage(`"not an object"`)}

	if _, err := ParsePayload[ControlPayload](&msg); err == nil {
		t.Fatal("expected decode error")
	}
}
