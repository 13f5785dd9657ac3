package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useMockMode forces the in-process fallback so tests need no Redis server.
func useMockMode(t *testing.T) {
	prevMode, prevInit := mockMode, initialized
	mockMode = true
	initialized = true
	resetMockState()
	t.Cleanup(func() {
		resetMockState()
		mockMode, initialized = prevMode, prevInit
	})
}

func TestPollStateCache_RoundTrip(t *testing.T) {
	useMockMode(t)

	_, err := GetCachedPollState("poll-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	CachePollState("poll-1", []byte(`{"poll":{"pollId":"poll-1"}}`))

	data, err := GetCachedPollState("poll-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"poll":{"pollId":"poll-1"}}`, string(data))

	// Invalidation removes the entry.
	InvalidatePoll("poll-1")
	_, err = GetCachedPollState("poll-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestBloomFilter_MockModeIsAdvisoryOnly(t *testing.T) {
	useMockMode(t)

	AddPollToBloomFilter("poll-1")

	// The in-process bitmap cannot see polls persisted before a restart,
	// so mock mode must never answer "definitely absent".
	assert.True(t, PollMayExist("poll-1"))
	assert.True(t, PollMayExist("never-added"))
}

func TestGetClient_MockMode(t *testing.T) {
	useMockMode(t)

	_, err := GetClient()
	assert.Error(t, err)

	// The lock service degrades to nil rather than handing out a broken client.
	assert.Nil(t, GetLockService())
}
