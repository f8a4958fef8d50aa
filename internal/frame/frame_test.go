package frame_test

import (
	"testing"

	"github.com/nodefabric/basenode/internal/frame"
	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := frame.Frame{
		Kind:     frame.Request,
		Key:      idhash.ServiceKey(42),
		ClientID: idhash.ClientID(7),
		Payload:  []byte("hello"),
	}
	got, err := frame.Decode(frame.Encode(f))
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestDecodeEmptyPayloadRoundTrips(t *testing.T) {
	f := frame.Frame{Kind: frame.Response, Key: 1, ClientID: 2}
	got, err := frame.Decode(frame.Encode(f))
	require.NoError(t, err)
	assert.Equal(t, f.Kind, got.Kind)
	assert.Equal(t, f.Key, got.Key)
	assert.Equal(t, f.ClientID, got.ClientID)
	assert.Empty(t, got.Payload)
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	_, err := frame.Decode(nil)
	assert.Error(t, err)
}

func TestDecodePayloadIsOwnedCopy(t *testing.T) {
	raw := frame.Encode(frame.Frame{Kind: frame.Request, Key: 1, ClientID: 1, Payload: []byte("abc")})
	f, err := frame.Decode(raw)
	require.NoError(t, err)
	raw[len(raw)-1] = 'Z'
	assert.Equal(t, "abc", string(f.Payload))
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	f := frame.Frame{Kind: frame.Request, Key: 5, ClientID: 6, Payload: []byte("x")}
	raw := frame.Encode(f)
	// append an unknown varint field (tag 9) after the known ones.
	raw = append(raw, 0x48, 0x01)
	got, err := frame.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}
