package shm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/shm"
)

func TestParseURI(t *testing.T) {
	u, err := shm.ParseURI("shm:file?path=/dev/shm/tp_stream1_header&require_hugepages=true&mode=ro")
	require.NoError(t, err)
	assert.Equal(t, "/dev/shm/tp_stream1_header", u.Path)
	assert.True(t, u.RequireHugepages)
	assert.Equal(t, shm.ModeRO, u.Mode)
}

func TestParseURIDefaultsModeRW(t *testing.T) {
	u, err := shm.ParseURI("shm:file?path=/dev/shm/x")
	require.NoError(t, err)
	assert.Equal(t, shm.ModeRW, u.Mode)
	assert.False(t, u.RequireHugepages)
}

func TestParseURIRejectsWrongScheme(t *testing.T) {
	_, err := shm.ParseURI("http:file?path=/dev/shm/x")
	require.Error(t, err)
}

func TestParseURIRejectsRelativePath(t *testing.T) {
	_, err := shm.ParseURI("shm:file?path=dev/shm/x")
	require.Error(t, err)
}

func TestParseURIRejectsMissingPath(t *testing.T) {
	_, err := shm.ParseURI("shm:file?mode=rw")
	require.Error(t, err)
}
