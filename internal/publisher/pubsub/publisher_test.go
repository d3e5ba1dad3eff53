package pubsub

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/robots-history/internal/pipeline"
)

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "robots-runs", pipeline.Summary{})
	require.ErrorContains(t, err, "not configured")
}

func TestNewMessageEncodesSummary(t *testing.T) {
	t.Parallel()

	msg, err := newMessage(context.Background(), "robots-runs", pipeline.Summary{RunID: "r1", Records: 4})
	require.NoError(t, err)
	require.Equal(t, "robots-runs", msg.Attributes["topic"])
	require.Equal(t, "application/json", msg.Attributes["content_type"])

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, "r1", got["run_id"])
	require.EqualValues(t, 4, got["records"])
}

func TestNewMessageRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := newMessage(context.Background(), "t", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestCarrier(t *testing.T) {
	t.Parallel()

	c := &carrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	c.Set("b", "2")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	keys := c.Keys()
	sort.Strings(keys)
	require.Equal(t, []string{"b", "traceparent"}, keys)
}
