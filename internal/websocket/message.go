package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"relaychat/internal/models"
)

// Envelope is an inbound client frame:
//
//	{"event":"private:message","ack":"17","data":{...}}
type Envelope struct {
	Event string          `json:"event"`
	AckID string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundMessage is a server -> client frame
type OutboundMessage struct {
	Event     string      `json:"event"`
	AckID     string      `json:"ack,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Ack is the acknowledgment returned for an inbound event
type Ack struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error *AckError   `json:"error,omitempty"`
}

type AckError struct {
	Code    models.ErrorKind `json:"code"`
	Message string           `json:"message"`
}

// OK builds a successful acknowledgment
func OK(data interface{}) *Ack {
	return &Ack{OK: true, Data: data}
}

// Fail builds a failed acknowledgment from any error
func Fail(err error) *Ack {
	appErr := models.AsAppError(err)
	msg := appErr.Message
	if msg == "" {
		msg = string(appErr.Kind)
	}
	return &Ack{
		OK:    false,
		Error: &AckError{Code: appErr.Kind, Message: msg},
	}
}

// ParseEnvelope decodes and sanity-checks a raw frame
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, models.NewValidationError("invalid frame: %v", err)
	}
	if env.Event == "" {
		return nil, models.NewValidationError("event is required")
	}
	if len(env.Event) > 64 {
		return nil, models.NewValidationError("event name too long")
	}
	return &env, nil
}

// Decode unmarshals the envelope payload into v
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return models.NewValidationError("%s: payload is required", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return models.NewValidationError("%s: malformed payload: %v", e.Event, err)
	}
	return nil
}

func encode(event, ackID string, data interface{}) ([]byte, error) {
	out, err := json.Marshal(OutboundMessage{
		Event:     event,
		AckID:     ackID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return out, nil
}
