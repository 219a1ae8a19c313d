package ocppclient

import (
	"encoding/json"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocppj"
)

// Frame is a decoded OCPP-J message: CALL, CALLRESULT or CALLERROR.
type Frame struct {
	Type             ocppj.MessageType
	MessageID        string
	Action           string
	Payload          json.RawMessage
	ErrorCode        ocpp.ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// ParseFrame decodes the array encoding of a frame. Any shape other than the
// three known message types is reported as ErrMalformedFrame.
func ParseFrame(data []byte) (*Frame, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: expected at least 3 elements, got %d", ErrMalformedFrame, len(fields))
	}
	var typeID int
	if err := json.Unmarshal(fields[0], &typeID); err != nil {
		return nil, fmt.Errorf("%w: invalid message type: %v", ErrMalformedFrame, err)
	}
	frame := &Frame{Type: ocppj.MessageType(typeID)}
	if err := json.Unmarshal(fields[1], &frame.MessageID); err != nil {
		return nil, fmt.Errorf("%w: invalid message id: %v", ErrMalformedFrame, err)
	}

	switch frame.Type {
	case ocppj.CALL:
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: CALL expects 4 elements, got %d", ErrMalformedFrame, len(fields))
		}
		if err := json.Unmarshal(fields[2], &frame.Action); err != nil {
			return nil, fmt.Errorf("%w: invalid action: %v", ErrMalformedFrame, err)
		}
		frame.Payload = fields[3]
	case ocppj.CALL_RESULT:
		frame.Payload = fields[2]
	case ocppj.CALL_ERROR:
		if len(fields) < 4 {
			return nil, fmt.Errorf("%w: CALLERROR expects at least 4 elements, got %d", ErrMalformedFrame, len(fields))
		}
		var code string
		if err := json.Unmarshal(fields[2], &code); err != nil {
			return nil, fmt.Errorf("%w: invalid error code: %v", ErrMalformedFrame, err)
		}
		frame.ErrorCode = ocpp.ErrorCode(code)
		if err := json.Unmarshal(fields[3], &frame.ErrorDescription); err != nil {
			return nil, fmt.Errorf("%w: invalid error description: %v", ErrMalformedFrame, err)
		}
		if len(fields) > 4 {
			frame.ErrorDetails = fields[4]
		}
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedFrame, typeID)
	}
	return frame, nil
}

func EncodeCall(messageID string, action string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{ocppj.CALL, messageID, action, emptyIfNil(payload)})
}

func EncodeCallResult(messageID string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{ocppj.CALL_RESULT, messageID, emptyIfNil(payload)})
}

func EncodeCallError(messageID string, code ocpp.ErrorCode, description string, details interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{ocppj.CALL_ERROR, messageID, string(code), description, emptyIfNil(details)})
}

func emptyIfNil(payload interface{}) interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}
	return payload
}
