package pubsub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_ReplaysCacheToLateSubscriber(t *testing.T) {
	b := NewBroker()
	b.PublishStatus(StatusMessage{SubmissionID: "s1", Status: "Checking"})

	ch, unsubscribe := b.Subscribe("s1")
	defer unsubscribe()

	var msg StatusMessage
	require.NoError(t, json.Unmarshal(<-ch, &msg))
	assert.Equal(t, "Checking", msg.Status)

	b.PublishStatus(StatusMessage{SubmissionID: "s1", Status: "Solved", Final: true})
	require.NoError(t, json.Unmarshal(<-ch, &msg))
	assert.True(t, msg.Final)
}

func TestBroker_CloseTopicClosesSubscribers(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe("s1")

	b.CloseTopic("s1")
	_, ok := <-ch
	assert.False(t, ok)

	// Unsubscribing after close must not panic.
	unsubscribe()
}

func TestBroker_CacheIsBounded(t *testing.T) {
	b := NewBroker()
	for i := 0; i < maxCached*2; i++ {
		b.Publish("s1", []byte("x"))
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Len(t, b.cache["s1"], maxCached)
}
