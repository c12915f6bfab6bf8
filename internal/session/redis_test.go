package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRedisKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "correo:session:abc", redisKey("abc"))
}

func TestNewRedisFromURLRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := NewRedisFromURL(context.Background(), "http://localhost:6379", time.Hour)
	assert.Error(t, err)
}
