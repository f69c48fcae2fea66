package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a malformed wire envelope. The connection layer
// logs and drops the offending frame; it does not tear down the socket.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// envelope is the raw wire form shared by all frame kinds.
type envelope struct {
	Ver     int             `json:"ver,omitempty"`
	Cmd     int             `json:"cmd"`
	Seq     *int64          `json:"seq,omitempty"`
	Opcode  Opcode          `json:"opcode"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeRequest serializes a request into its wire envelope.
func EncodeRequest(req *Request) ([]byte, error) {
	seq := req.Seq
	env := envelope{
		Ver:     req.Ver,
		Cmd:     req.Cmd,
		Seq:     &seq,
		Opcode:  req.Opcode,
		Payload: req.Payload,
	}
	data, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

// Decode parses raw envelope bytes into a typed frame.
//
// A frame with cmd 1 or 3 and a seq is a Response to the outstanding
// request with that seq. Everything else is a Push, including frames
// with opcodes this package does not know about.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed envelope", Err: err}
	}

	switch env.Cmd {
	case CmdResponse, CmdError:
		if env.Seq == nil {
			return nil, &DecodeError{Reason: "response without seq"}
		}
		return &Response{
			Seq:     *env.Seq,
			Cmd:     env.Cmd,
			Opcode:  env.Opcode,
			Payload: env.Payload,
		}, nil
	case CmdRequest:
		return &Push{Opcode: env.Opcode, Payload: env.Payload}, nil
	default:
		// Unknown cmd values are treated as pushes so a newer server
		// cannot wedge the read loop.
		return &Push{Opcode: env.Opcode, Payload: env.Payload}, nil
	}
}
