package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		Op:           OpOnOff,
		UID:          "0x00124b00aabbccdd",
		Endpoint:     1,
		OnOffCmd:     uint8(1),
		TransitionMs: 500,
	}
	buf, err := EncodeRequest(req)
	require.NoError(t, err)

	got, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{
		OK: true,
		Devices: []DeviceDTO{
			{ID: "0x00124b00aabbccdd", Name: "Lamp", Type: "light", Protocol: "zigbee"},
		},
	}
	buf, err := EncodeResponse(resp)
	require.NoError(t, err)

	got, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestResponseErrorRoundTrip(t *testing.T) {
	resp := Response{OK: false, Error: "device not found"}
	buf, err := EncodeResponse(resp)
	require.NoError(t, err)

	got, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.False(t, got.OK)
	assert.Equal(t, "device not found", got.Error)
}

func TestDecodeRequestRejectsGarbage(t *testing.T) {
	_, err := DecodeRequest([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
