package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeUser_UnreachableRedisFailsWithinTimeout(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()
	ps := NewRedisPubSub(client, nil)

	start := time.Now()
	cancel, err := ps.SubscribeUser(uuid.New(), func(string, []byte) {})
	require.Error(t, err)
	assert.Nil(t, cancel)
	assert.Less(t, time.Since(start), subscribeTimeout+time.Second)
}
