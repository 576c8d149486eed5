package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSelfStats(t *testing.T) {
	st, err := readSelfStats()
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), st.PID)
	require.NotNil(t, st.MemoryMB)
	assert.Greater(t, *st.MemoryMB, 0.0)
	require.NotNil(t, st.Threads)
	assert.Greater(t, *st.Threads, int32(0))
}
