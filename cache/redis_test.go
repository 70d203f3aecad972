package cache

import (
	"context"
	"testing"
	"time"

	"github.com/chaos-io/cutout/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_Unreachable(t *testing.T) {
	r := NewRedis(&config.RedisConfig{Addr: "127.0.0.1:1", TTL: time.Minute})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	assert.Error(t, r.Ping(ctx))

	data, err := r.Get(ctx, "segment:test:abc")
	assert.Error(t, err)
	assert.Nil(t, data)

	assert.Error(t, r.Set(ctx, "segment:test:abc", []byte("x")))
}

func TestRedis_Closed(t *testing.T) {
	r := NewRedis(&config.Default().Redis)
	require.NoError(t, r.Close())

	_, err := r.Get(context.Background(), "k")
	assert.Error(t, err)
}
