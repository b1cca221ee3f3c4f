package ports

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestAllocate_ReturnsPreferredWhenFree(t *testing.T) {
	preferred := freePort(t)

	got, err := Allocate(preferred)
	require.NoError(t, err)
	assert.Equal(t, preferred, got)
}

func TestAllocate_FallsBackWhenBusy(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()
	preferred := busy.Addr().(*net.TCPAddr).Port

	got, err := Allocate(preferred)
	require.NoError(t, err)
	assert.NotEqual(t, preferred, got)
	assert.Greater(t, got, 0)

	// The returned port must actually be bindable.
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(got)))
	require.NoError(t, err)
	ln.Close()
}

func TestAllocate_NonPositiveAsksOS(t *testing.T) {
	got, err := Allocate(0)
	require.NoError(t, err)
	assert.Greater(t, got, 0)
}

func TestListen_KeepsListenerOpen(t *testing.T) {
	ln, err := Listen(0)
	require.NoError(t, err)
	defer ln.Close()

	port, err := PortOf(ln.Addr())
	require.NoError(t, err)

	_, err = net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	assert.Error(t, err, "port held by Listen should not be bindable twice")
}
