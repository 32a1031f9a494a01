package reuseport

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenTCP(t *testing.T) {
	ln, err := ListenTCP(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	assert.NotNil(t, ln.Addr())
}

func TestListenTCP_MultipleOnSamePort(t *testing.T) {
	ln1, err := ListenTCP(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer ln1.Close()

	port := ln1.Addr().(*net.TCPAddr).Port

	ln2, err := ListenTCP(context.Background(), "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err, "SO_REUSEPORT should allow a second listener on the same port")
	defer ln2.Close()
}

func TestListenUDP(t *testing.T) {
	conn, err := ListenUDP(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	assert.NotNil(t, conn.LocalAddr())
}

func TestListenUDP_InvalidAddress(t *testing.T) {
	_, err := ListenUDP(context.Background(), "invalid:address::")
	assert.Error(t, err)
}
