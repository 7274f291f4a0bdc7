package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObserver struct {
	publishCount   int
	deliveredCount int
	lastErr        error
}

func (o *testObserver) OnPublish(_ string, _ Event) {
	o.publishCount++
}

func (o *testObserver) OnDelivered(_ string, handlers int, err error, _ int64) {
	o.deliveredCount += handlers
	o.lastErr = err
}

func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	called := 0
	_, err := b.Subscribe("test.event", func(e Event) error {
		called++
		assert.Equal(t, 123, e.Data())
		assert.Equal(t, "tester", e.Source())
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(NewEvent("test.event", "tester", 123)))
	assert.Equal(t, 1, called)
}

func TestDeliveryFollowsSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	for i := 0; i < 5; i++ {
		_, err := b.Subscribe("ordered", func(Event) error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(NewEvent("ordered", "t", nil)))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestCancelDuringDelivery(t *testing.T) {
	b := New()
	var second Subscription
	calls := 0
	_, err := b.Subscribe("x", func(Event) error {
		calls++
		return second.Cancel()
	})
	require.NoError(t, err)
	second, err = b.Subscribe("x", func(Event) error {
		calls += 10
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(NewEvent("x", "t", nil)))
	assert.Equal(t, 1, calls, "cancelled subscription must not run")
	assert.False(t, second.IsActive())

	require.NoError(t, b.Publish(NewEvent("x", "t", nil)))
	assert.Equal(t, 2, calls)
}

func TestPublishJoinsHandlerErrors(t *testing.T) {
	b := New()
	errA := errors.New("a")
	errB := errors.New("b")
	_, _ = b.Subscribe("e", func(Event) error { return errA })
	_, _ = b.Subscribe("e", func(Event) error { return errB })

	err := b.Publish(NewEvent("e", "t", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestObserverMetricsOptional(t *testing.T) {
	b := New()
	_, _ = b.Subscribe("e", func(e Event) error { return nil })
	_ = b.Publish(NewEvent("e", "s", nil))
	m := b.GetMetrics()
	assert.Zero(t, m.Published)

	obs := &testObserver{}
	b.AddObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil))
	m = b.GetMetrics()
	assert.Equal(t, uint64(1), m.Published)
	assert.Equal(t, uint64(1), m.DeliveredHandlers)
	assert.Equal(t, uint64(1), m.SubscribersActive)
	assert.Equal(t, 1, obs.publishCount)
	assert.Equal(t, 1, obs.deliveredCount)

	_ = b.Publish(NewEvent("e", "s", nil))
	assert.Equal(t, 2, obs.publishCount)
}

func TestTypedHelpers(t *testing.T) {
	type ping struct{ N int }
	b := New()
	var got []int
	_, err := On(b, "ping", func(p ping) { got = append(got, p.N) })
	require.NoError(t, err)

	require.NoError(t, Emit(b, "ping", "t", ping{N: 7}))
	assert.Equal(t, []int{7}, got)

	err = b.Publish(NewEvent("ping", "t", "not a ping"))
	assert.ErrorIs(t, err, ErrUnexpectedData)

	_, err = On[ping](b, "ping", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}
