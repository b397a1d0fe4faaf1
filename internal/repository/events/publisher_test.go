package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SessionScan/internal/domain/models"
)

type captured struct {
	key   string
	value interface{}
}

type fakeProducer struct {
	sent   []captured
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, key []byte, value interface{}) error {
	f.sent = append(f.sent, captured{key: string(key), value: value})
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherKeys(t *testing.T) {
	fp := &fakeProducer{}
	pub := NewKafkaPublisher(fp)
	ctx := context.Background()

	require.NoError(t, pub.PublishEvent(ctx, models.RunEvent{Type: models.EventRunStarted, RunID: "r1"}))
	require.NoError(t, pub.PublishEvent(ctx, models.RunEvent{Type: models.EventItemCompleted, RunID: "r1", Symbol: "ACME"}))

	require.Len(t, fp.sent, 2)
	assert.Equal(t, "r1", fp.sent[0].key)
	assert.Equal(t, "ACME", fp.sent[1].key)
	assert.Equal(t, models.EventItemCompleted, fp.sent[1].value.(models.RunEvent).Type)

	require.NoError(t, pub.Close())
	assert.True(t, fp.closed)
}

func TestNop(t *testing.T) {
	var n Nop
	assert.NoError(t, n.PublishEvent(context.Background(), models.RunEvent{}))
	assert.NoError(t, n.Close())
}
