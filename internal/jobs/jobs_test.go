package jobs

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsMaxAttemptsDefault(t *testing.T) {
	assert.Equal(t, 3, Options{}.maxAttempts())
	assert.Equal(t, 3, Options{MaxAttempts: -1}.maxAttempts())
	assert.Equal(t, 7, Options{MaxAttempts: 7}.maxAttempts())
}

func TestPgBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 30*time.Second, pgBackoff(1))
	assert.Equal(t, time.Minute, pgBackoff(2))
	assert.Equal(t, 2*time.Minute, pgBackoff(3))
	assert.Equal(t, 15*time.Minute, pgBackoff(10), "backoff must cap at 15m")
	assert.Equal(t, 30*time.Second, pgBackoff(0), "degenerate attempts fall back to the base")
}

func TestRedisBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, time.Second, redisBackoff(1))
	assert.Equal(t, 2*time.Second, redisBackoff(2))
	assert.Equal(t, 16*time.Second, redisBackoff(5))
	assert.Equal(t, 30*time.Second, redisBackoff(12), "backoff must cap at 30s")
}

func TestIsTransientRedisErr(t *testing.T) {
	transient := []error{
		errors.New("dial tcp 127.0.0.1:6379: connection refused"),
		errors.New("read tcp: connection reset by peer"),
		errors.New("write: broken pipe"),
		errors.New("i/o timeout"),
		errors.New("EOF"),
		errors.New("READONLY You can't write against a read only replica."),
	}
	for _, err := range transient {
		assert.True(t, isTransientRedisErr(err), "%v should be transient", err)
	}

	assert.False(t, isTransientRedisErr(errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")))
	assert.False(t, isTransientRedisErr(nil))
}

func TestNewSupervisorRejectsBadConfig(t *testing.T) {
	_, err := NewSupervisor(SupervisorConfig{Backend: "in-db"})
	assert.Error(t, err, "in-db backend requires a database pool")

	_, err = NewSupervisor(SupervisorConfig{Backend: "sqs"})
	assert.Error(t, err, "unknown backends must be rejected")
}

func TestSupervisorShutdownBeforeStartIsSafe(t *testing.T) {
	// sql.Open does not dial; the pool is only touched by polling.
	db, err := sql.Open("postgres", "postgres://localhost/queue_test?sslmode=disable")
	require.NoError(t, err)
	defer db.Close()

	s, err := NewSupervisor(SupervisorConfig{Backend: "in-db", DB: db})
	require.NoError(t, err)

	assert.NoError(t, s.Shutdown())
	assert.NoError(t, s.Shutdown(), "shutdown must be idempotent")

	_, err = s.Queue("anything")
	assert.ErrorIs(t, err, ErrQueueClosed)
	_, err = s.Worker("anything", nil, WorkerEvents{})
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, s.Start(), ErrQueueClosed)
}
