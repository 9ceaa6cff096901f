package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fxadvisor/internal/domain"
)

func TestBusPublishSignalChangedDeliversToAllSubscribers(t *testing.T) {
	b := New()

	var got1, got2 SignalChanged
	b.OnSignalChanged(func(e SignalChanged) { got1 = e })
	b.OnSignalChanged(func(e SignalChanged) { got2 = e })

	event := SignalChanged{
		Signal: domain.Signal{Pair: "EUR/USD", Direction: domain.DirectionLong},
		Change: domain.SignalChange{Pair: "EUR/USD", NewDirection: domain.DirectionLong},
	}
	b.PublishSignalChanged(event)

	assert.Equal(t, "EUR/USD", got1.Signal.Pair)
	assert.Equal(t, "EUR/USD", got2.Signal.Pair)
}

func TestBusPublishWithNoSubscribersDoesNotPanic(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() {
		b.PublishPositionEvaluated(PositionEvaluated{})
		b.PublishModelPromoted(ModelPromoted{})
	})
}
