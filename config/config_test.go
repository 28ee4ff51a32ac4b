package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadInitializesOnFirstUse(t *testing.T) {
	dir := t.TempDir()

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, defaultChunkSize, c.ChunkSize)
	assert.Equal(t, "info", c.LogLevel)
	assert.NotEqual(t, [16]byte{}, [16]byte(c.ReplicaID))

	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, c.ReplicaID, again.ReplicaID, "a second load must see the same persisted identity")
}

func TestLoadAppliesOptions(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(dir, WithChunkSize(10), WithLogLevel("debug"))
	require.NoError(t, err)
	assert.Equal(t, 10, c.ChunkSize)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestWithChunkSizeRejectsNonPositive(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, WithChunkSize(0))
	assert.Error(t, err)
}

func TestInitializeRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir))
	assert.Error(t, Initialize(dir))
}
