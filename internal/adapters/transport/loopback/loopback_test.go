package loopback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

func TestEventsAreQueuedInOrder(t *testing.T) {
	tr := New(4)

	require.NoError(t, tr.Subscribe("app", "a", domain.SensorLight, 5, domain.StreamOptions{BatchSize: 3}))
	require.NoError(t, tr.Fetch("app", "b", domain.SensorPressure))
	require.NoError(t, tr.Cancel("app", "a"))

	kinds := []ports.EventKind{}
	for {
		ev, ok := tr.PollEvent()
		if !ok {
			break
		}
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []ports.EventKind{ports.EventSubscribe, ports.EventFetch, ports.EventCancel}, kinds)
}

func TestFullQueueRejectsEvents(t *testing.T) {
	tr := New(1)
	require.NoError(t, tr.Fetch("app", "a", domain.SensorLight))
	err := tr.Fetch("app", "b", domain.SensorLight)
	assert.True(t, errors.Is(err, errs.ErrTimedOut))
}

func TestSendDeliversToAttachedPeer(t *testing.T) {
	tr := New(0)
	var got []Delivery
	tr.Attach("app", func(d Delivery) { got = append(got, d) })

	payload := []byte{1, 2, 3}
	require.NoError(t, tr.Send("app", "a", payload, true))
	payload[0] = 9

	require.Len(t, got, 1)
	assert.Equal(t, Delivery{Token: "a", Confirmable: true, Payload: []byte{1, 2, 3}}, got[0])

	assert.True(t, errors.Is(tr.Send("other", "a", nil, false), errs.ErrNotFound))

	tr.Detach("app")
	assert.Error(t, tr.Send("app", "a", nil, false))

	require.NoError(t, tr.Close())
	assert.True(t, errors.Is(tr.Subscribe("app", "x", domain.SensorLight, 1, domain.StreamOptions{}), errs.ErrClosed))
}
