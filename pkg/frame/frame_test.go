package frame

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{MsgType: MsgCmdReq, Flags: 0, Seq: 42, Payload: []byte("hello")}
	buf, err := Encode(f)
	require.NoError(t, err)

	c := NewCodec()
	consumed, decoded, err := c.Feed(buf)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, f.MsgType, decoded.MsgType)
	assert.Equal(t, f.Seq, decoded.Seq)
	assert.Equal(t, f.Payload, decoded.Payload)
}

func TestRoundTripProperty(t *testing.T) {
	prop := func(msgType uint8, flags uint8, seq uint16, payload []byte) bool {
		if len(payload) > MaxPayload {
			payload = payload[:MaxPayload]
		}
		f := Frame{MsgType: MsgType(msgType), Flags: Flags(flags), Seq: seq, Payload: payload}
		buf, err := Encode(f)
		if err != nil {
			return false
		}
		c := NewCodec()
		consumed, decoded, err := c.Feed(buf)
		if err != nil || decoded == nil {
			return false
		}
		if consumed != len(buf) {
			return false
		}
		if decoded.MsgType != f.MsgType || decoded.Flags != f.Flags || decoded.Seq != f.Seq {
			return false
		}
		if len(decoded.Payload) != len(payload) {
			return false
		}
		for i := range payload {
			if decoded.Payload[i] != payload[i] {
				return false
			}
		}
		return true
	}
	require.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 200}))
}

func TestFeedAcrossChunks(t *testing.T) {
	buf, err := Encode(Frame{MsgType: MsgPing, Seq: 7, Payload: []byte{1, 2, 3}})
	require.NoError(t, err)

	c := NewCodec()
	_, decoded, err := c.Feed(buf[:3])
	require.NoError(t, err)
	assert.Nil(t, decoded)

	_, decoded, err = c.Feed(buf[3:])
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.Equal(t, MsgPing, decoded.MsgType)
}

func TestCrcMismatchResyncs(t *testing.T) {
	buf, err := Encode(Frame{MsgType: MsgPing, Seq: 1, Payload: []byte("x")})
	require.NoError(t, err)
	corrupted := append([]byte(nil), buf...)
	corrupted[len(corrupted)-1] ^= 0xFF

	// Append a valid frame after the corrupted one; codec should resync
	// past the bad bytes and decode the following good frame.
	good, err := Encode(Frame{MsgType: MsgPong, Seq: 2, Payload: []byte("y")})
	require.NoError(t, err)

	c := NewCodec()
	stream := append(corrupted, good...)
	var decoded *Frame
	var lastErr error
	for len(stream) > 0 && decoded == nil {
		var consumed int
		consumed, decoded, lastErr = c.Feed(stream)
		stream = stream[consumed:]
		if consumed == 0 {
			break
		}
	}
	require.NotNil(t, decoded)
	assert.Equal(t, MsgPong, decoded.MsgType)
	_ = lastErr
}

func TestPayloadOverCapRejected(t *testing.T) {
	_, err := Encode(Frame{MsgType: MsgEvt, Payload: make([]byte, MaxPayload+1)})
	assert.Error(t, err)
}
