package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoziy/finsync/internal/logging"
)

func TestNewWithoutURLIsNop(t *testing.T) {
	n, err := New(Config{}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Publish(context.Background(), Event{Type: EventRunCompleted}))
	assert.NoError(t, n.Close())
}

func TestConnectFailure(t *testing.T) {
	_, err := New(Config{URL: "nats://127.0.0.1:1", Timeout: 200 * time.Millisecond, MaxReconnect: -1}, logging.Discard())
	assert.Error(t, err)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "finsync.run.aborted", Subject("", Event{Type: EventRunAborted}))
	assert.Equal(t, "ops.sync.run.completed", Subject("ops.sync", Event{Type: EventRunCompleted}))
}

func TestEventJSON(t *testing.T) {
	ev := Event{Type: EventRunAborted, SessionID: "s", Aborted: true, AbortReason: "HTTP 401", Datasets: []string{"prices"}}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "HTTP 401", m["abort_reason"])
	assert.Equal(t, true, m["aborted"])
	assert.NotContains(t, m, "dead_letter_path")
}
