package server

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenerPort(t *testing.T, ln net.Listener) uint16 {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	return uint16(port)
}

func TestListenRangeSkipsOccupiedPort(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := listenerPort(t, occupied)

	ln, err := ListenRange("127.0.0.1", port, port+20)
	require.NoError(t, err)
	defer ln.Close()

	got := listenerPort(t, ln)
	assert.NotEqual(t, port, got)
	assert.Greater(t, got, port)
	assert.LessOrEqual(t, got, port+20)
}

func TestListenRangeExhausted(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := listenerPort(t, occupied)

	_, err = ListenRange("127.0.0.1", port, port)
	assert.Error(t, err)
}

func TestListenRangeInvalidRange(t *testing.T) {
	_, err := ListenRange("127.0.0.1", 9000, 8000)
	assert.Error(t, err)
}
