package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	req := &Request{
		Ver:     11,
		Cmd:     CmdRequest,
		Seq:     7,
		Opcode:  OpSendMessage,
		Payload: json.RawMessage(`{"chatId":42}`),
	}

	data, err := EncodeRequest(req)
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &env))
	assert.JSONEq(t, `11`, string(env["ver"]))
	assert.JSONEq(t, `0`, string(env["cmd"]))
	assert.JSONEq(t, `7`, string(env["seq"]))
	assert.JSONEq(t, `64`, string(env["opcode"]))
	assert.JSONEq(t, `{"chatId":42}`, string(env["payload"]))
}

func TestEncodeRequestSeqZeroPresent(t *testing.T) {
	// The hello frame is the first on the wire; its seq must still be
	// serialized even when the counter starts at zero.
	data, err := EncodeRequest(&Request{Ver: 11, Seq: 0, Opcode: OpHello})
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &env))
	_, ok := env["seq"]
	assert.True(t, ok, "seq field missing from envelope")
}

func TestDecodeResponse(t *testing.T) {
	frame, err := Decode([]byte(`{"ver":11,"cmd":1,"seq":3,"opcode":19,"payload":{"token":"abc"}}`))
	require.NoError(t, err)

	resp, ok := frame.(*Response)
	require.True(t, ok, "expected *Response, got %T", frame)
	assert.Equal(t, int64(3), resp.Seq)
	assert.Equal(t, OpAuthToken, resp.Opcode)
	assert.False(t, resp.IsError())
	assert.JSONEq(t, `{"token":"abc"}`, string(resp.Payload))
}

func TestDecodeErrorResponse(t *testing.T) {
	frame, err := Decode([]byte(`{"cmd":3,"seq":9,"opcode":18,"payload":{"error":"verify.code"}}`))
	require.NoError(t, err)

	resp, ok := frame.(*Response)
	require.True(t, ok, "expected *Response, got %T", frame)
	assert.True(t, resp.IsError())
	assert.Equal(t, int64(9), resp.Seq)
}

func TestDecodePush(t *testing.T) {
	frame, err := Decode([]byte(`{"cmd":0,"opcode":128,"payload":{"chatId":1}}`))
	require.NoError(t, err)

	push, ok := frame.(*Push)
	require.True(t, ok, "expected *Push, got %T", frame)
	assert.Equal(t, OpIncomingMessage, push.Opcode)
}

func TestDecodeUnknownOpcodeIsPush(t *testing.T) {
	frame, err := Decode([]byte(`{"cmd":0,"opcode":9999,"payload":{"x":1}}`))
	require.NoError(t, err)

	push, ok := frame.(*Push)
	require.True(t, ok, "expected *Push, got %T", frame)
	assert.Equal(t, Opcode(9999), push.Opcode)
}

func TestDecodeUnknownCmdIsPush(t *testing.T) {
	frame, err := Decode([]byte(`{"cmd":7,"opcode":5,"payload":{}}`))
	require.NoError(t, err)

	_, ok := frame.(*Push)
	assert.True(t, ok, "expected *Push, got %T", frame)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)

	var decErr *DecodeError
	assert.ErrorAs(t, err, &decErr)
}

func TestDecodeResponseWithoutSeq(t *testing.T) {
	_, err := Decode([]byte(`{"cmd":1,"opcode":19,"payload":{}}`))
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "response without seq", decErr.Reason)
}
