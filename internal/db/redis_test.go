package db

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUniversalClientSingleNode(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewUniversalClient(RedisConfig{Addresses: []string{mr.Addr()}, DB: 2, PoolSize: 2})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Set(t.Context(), "k", "v", 0).Err())
	mr.Select(2)
	assert.True(t, mr.Exists("k"))
}

func TestNewUniversalClientErrors(t *testing.T) {
	_, err := NewUniversalClient(RedisConfig{})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewUniversalClient(RedisConfig{Addresses: []string{addr}})
	assert.Error(t, err)
}
