// Package protocol implements the MAX wire envelope codec.
//
// Every frame exchanged with the server is a JSON envelope of the form
//
//	{"ver": 11, "cmd": 0, "seq": 42, "opcode": 64, "payload": {...}}
//
// where cmd distinguishes client requests (0) from server responses (1)
// and server error responses (3). Frames that are not an answer to an
// outstanding request are pushes. The package converts between raw
// envelope bytes and the closed Frame sum type (Request, Response, Push)
// consumed by the connection layer.
//
// Unknown opcodes decode to a generic Push rather than an error so that
// newer servers do not break older clients.
package protocol
