package protocol

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/xid"

	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/errors"
)

var validate = validator.New()

// NewMessage builds a wire frame for an event and its payload
func NewMessage(event domain.EventType, payload any) (*domain.Message, error) {
	msg := &domain.Message{
		ID:        xid.New().String(),
		Type:      event,
		Timestamp: time.Now(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal payload")
		}
		msg.Data = data
	}

	return msg, nil
}

// DecodePayload unmarshals and validates an event payload. A payload
// missing required fields is rejected before any state mutation.
func DecodePayload(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "INVALID_PAYLOAD", "failed to unmarshal payload").
			WithDetails(string(msg.Type))
	}

	if err := validate.Struct(v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "MISSING_FIELDS", "payload is missing required fields").
			WithDetails(string(msg.Type))
	}

	return nil
}

// Codec defines the interface for frame encoding/decoding
type Codec interface {
	// Encode encodes a frame to bytes
	Encode(msg *domain.Message) ([]byte, error)

	// Decode decodes bytes to a frame
	Decode(data []byte) (*domain.Message, error)
}

// JSONCodec implements Codec using JSON
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode implements the Codec interface
func (c *JSONCodec) Encode(msg *domain.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode implements the Codec interface
func (c *JSONCodec) Decode(data []byte) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "INVALID_FRAME", "failed to unmarshal frame")
	}
	if msg.Type == "" {
		return nil, errors.New(errors.ErrorTypeProtocol, "MISSING_EVENT", "frame has no event type")
	}
	return &msg, nil
}
