package icp

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeQuery(t *testing.T) {
	msg := Query(12345, "http://example.com/test")
	encoded, err := msg.Encode()
	require.NoError(t, err)
	assert.Greater(t, len(encoded), headerSize)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, OpQuery, decoded.Opcode)
	assert.Equal(t, uint32(12345), decoded.RequestNumber)
	assert.Equal(t, "http://example.com/test", decoded.URL)
}

func TestEncodeDecodeHitMiss(t *testing.T) {
	hit := Hit(999)
	encoded, err := hit.Encode()
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, OpHit, decoded.Opcode)
	assert.Equal(t, uint32(999), decoded.RequestNumber)
	assert.Empty(t, decoded.URL)

	miss := Miss(1000)
	encoded, err = miss.Encode()
	require.NoError(t, err)
	decoded, err = Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, OpMiss, decoded.Opcode)
}

func TestEncodeRejectsOversizeURL(t *testing.T) {
	msg := Query(1, "http://example.com/"+strings.Repeat("a", 1001))
	_, err := msg.Encode()
	assert.Error(t, err)
}

func TestURLLengthFieldIncludesNUL(t *testing.T) {
	msg := Query(1, "http://x")
	encoded, err := msg.Encode()
	require.NoError(t, err)
	assert.Len(t, encoded, headerSize+len("http://x")+1)
	assert.Equal(t, uint16(len("http://x")+1), binary.BigEndian.Uint16(encoded[2:4]))
}

func TestDecodeRejectsShortMessage(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeUnknownOpcodeIsInvalid(t *testing.T) {
	msg := Query(1, "http://x")
	encoded, err := msg.Encode()
	require.NoError(t, err)
	encoded[0] = 99
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, OpInvalid, decoded.Opcode)
}
