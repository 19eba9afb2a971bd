package redis

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestContainer starts a Redis server for the test and returns its
// address. It skips the test with -short.
func NewTestContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container skipped in short mode")
	}

	redisC, err := testcontainers.Run(
		t.Context(), "redis:latest",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	testcontainers.CleanupContainer(t, redisC)
	require.NoError(t, err)

	endpoint, err := redisC.Endpoint(t.Context(), "")
	require.NoError(t, err)
	return endpoint
}
