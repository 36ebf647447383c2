package events

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mthorpe/conveyor/internal/logging"
)

func TestLogAllMirrorsBusEvents(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(os.Stderr)

	bus := NewBus()
	stop := LogAll(bus, logging.New("events"))

	bus.Publish(TypePhase, "run-1", "transition", map[string]any{"from": "build", "to": "verify"})
	bus.Publish(TypeRetry, "run-1", "started", nil)
	stop()

	var entries []logging.Entry
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var e logging.Entry
		require.NoError(t, dec.Decode(&e))
		entries = append(entries, e)
	}

	require.Len(t, entries, 2)
	assert.Equal(t, "transition", entries[0].Event)
	assert.Equal(t, "events", entries[0].Component)
	assert.Equal(t, "run-1", entries[0].Extra["run"])
	assert.Equal(t, string(TypePhase), entries[0].Extra["type"])
	assert.Equal(t, "verify", entries[0].Extra["to"])
	assert.Equal(t, "started", entries[1].Event)
}

func TestLogAllStopUnsubscribes(t *testing.T) {
	bus := NewBus()
	stop := LogAll(bus, logging.New("events"))
	require.Equal(t, 1, bus.SubscriberCount())

	stop()
	assert.Equal(t, 0, bus.SubscriberCount())
	bus.Publish(TypePhase, "run-1", "transition", nil)
}
