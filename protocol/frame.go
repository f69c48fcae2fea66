package protocol

import "encoding/json"

// Opcode identifies the semantic meaning of a frame's payload.
type Opcode int

// Opcodes used by the MAX web client. The set is not exhaustive; frames
// carrying opcodes outside this list still decode as generic pushes.
const (
	// OpNavEvents reports client navigation events (opcode 5).
	OpNavEvents Opcode = 5
	// OpHello announces device identity and user agent metadata (opcode 6).
	OpHello Opcode = 6
	// OpAuthStart begins phone authentication (opcode 17).
	OpAuthStart Opcode = 17
	// OpAuthCheckCode submits the SMS verification code (opcode 18).
	OpAuthCheckCode Opcode = 18
	// OpAuthToken logs in with a stored token and triggers the initial
	// sync; the response carries the profile and chat list (opcode 19).
	OpAuthToken Opcode = 19
	// OpEditMessage edits a previously sent message (opcode 21).
	OpEditMessage Opcode = 21
	// OpDeleteMessage deletes a message (opcode 22).
	OpDeleteMessage Opcode = 22
	// OpContacts requests or delivers contact records (opcode 32).
	OpContacts Opcode = 32
	// OpChats requests or delivers chat records (opcode 48).
	OpChats Opcode = 48
	// OpSendMessage sends a message or sticker (opcode 64).
	OpSendMessage Opcode = 64
	// OpIncomingMessage is the server push for a new message (opcode 128).
	OpIncomingMessage Opcode = 128
	// OpReaction attaches a reaction to a message (opcode 178).
	OpReaction Opcode = 178
)

// Command values carried in the envelope's cmd field.
const (
	// CmdRequest marks client-originated frames and server pushes.
	CmdRequest = 0
	// CmdResponse marks a successful response to a client request.
	CmdResponse = 1
	// CmdError marks an error response to a client request.
	CmdError = 3
)

// Frame is one decoded wire envelope: a Request, Response, or Push.
// The set of implementations is closed.
type Frame interface {
	frame()
}

// Request is a client-originated frame awaiting a correlated response.
type Request struct {
	Ver     int
	Cmd     int
	Seq     int64
	Opcode  Opcode
	Payload json.RawMessage
}

// Response answers the Request with the matching Seq. Cmd is CmdResponse
// on success and CmdError when the server rejected the request.
type Response struct {
	Seq     int64
	Cmd     int
	Opcode  Opcode
	Payload json.RawMessage
}

// Push is a server-initiated frame not tied to any prior request.
type Push struct {
	Opcode  Opcode
	Payload json.RawMessage
}

func (*Request) frame()  {}
func (*Response) frame() {}
func (*Push) frame()     {}

// IsError reports whether the response is a server error response.
func (r *Response) IsError() bool {
	return r.Cmd == CmdError
}
