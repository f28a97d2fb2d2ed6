package domain

import (
	"testing"
	"time"
)

func TestNewEventEncodesPayload(t *testing.T) {
	before := time.Now()
	e := NewEvent(EventToolCallCompleted, ToolCallPayload{CallID: "call_1", Name: "divide", Result: "division by zero", IsError: true})

	if e.Type != EventToolCallCompleted {
		t.Errorf("Type = %s", e.Type)
	}
	if e.Timestamp.Before(before) {
		t.Errorf("Timestamp %v before %v", e.Timestamp, before)
	}

	var p ToolCallPayload
	if err := e.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Name != "divide" || !p.IsError || p.Result != "division by zero" {
		t.Errorf("payload = %+v", p)
	}
}

func TestNewEventWithoutPayload(t *testing.T) {
	e := NewEvent(EventRunStarted, nil)
	if e.Payload != nil {
		t.Errorf("Payload = %s, want nil", e.Payload)
	}
	var p RunPayload
	if err := e.DecodePayload(&p); err != nil {
		t.Errorf("DecodePayload on empty payload: %v", err)
	}
}

func TestNewEventDropsUnencodablePayload(t *testing.T) {
	e := NewEvent(EventRunStarted, map[string]any{"ch": make(chan int)})
	if e.Payload != nil {
		t.Errorf("Payload = %s, want nil", e.Payload)
	}
}
