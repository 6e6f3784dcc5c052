package eventbus

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type changed struct {
	id string
}

type other struct{}

func bufferLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(level)
	return log, buf
}

func TestPublish_WarnsWithoutSubscribers(t *testing.T) {
	log, buf := bufferLogger(logrus.WarnLevel)
	bus := NewEventPublisher(log)
	bus.Subscribe(func(e *changed) { t.Error("should not be called") })

	bus.Publish(&other{})
	require.Contains(t, buf.String(), "eventbus.Publish: no matching subscribers")
}

func TestPublish_DeliversToMatchingHandler(t *testing.T) {
	bus := NewEventPublisher(nil)
	var got string
	bus.Subscribe(func(e *changed) { got = e.id })
	bus.Publish(&changed{id: "n1"})
	require.Equal(t, "n1", got)
}

func TestPublish_PanicDoesNotStopOtherHandlers(t *testing.T) {
	log, buf := bufferLogger(logrus.ErrorLevel)
	bus := NewEventPublisher(log)
	calls := 0
	bus.Subscribe(func(e *changed) { calls++ })
	bus.Subscribe(func(e *changed) { panic("boom") })
	bus.Subscribe(func(e *changed) { calls++ })

	bus.Publish(&changed{id: "n1"})
	require.Equal(t, 2, calls)
	require.Contains(t, buf.String(), "panicked")
	require.Contains(t, buf.String(), "boom")
}

func TestMatchSignature(t *testing.T) {
	require.True(t, MatchSignature(func(e *changed) {}, []any{&changed{}}))
	require.False(t, MatchSignature(func(e *changed) {}, []any{&other{}}))
	require.False(t, MatchSignature(func(e *changed) {}, []any{}))
	require.False(t, MatchSignature(func(e *changed) {}, []any{&changed{}, &changed{}}))
	require.True(t, MatchSignature(func(ctx context.Context) {}, []any{context.Background()}))
	require.True(t, MatchSignature(func(e *changed) {}, []any{nil}))
	require.False(t, MatchSignature("not a func", []any{}))
}

func TestPublishE(t *testing.T) {
	t.Parallel()

	t.Run("no subscribers", func(t *testing.T) {
		bus := NewEventPublisher(nil).(EventBusWithError)
		require.ErrorIs(t, bus.PublishE(&changed{}), ErrNoSubscribers)
	})

	t.Run("joins handler errors", func(t *testing.T) {
		bus := NewEventPublisher(nil).(EventBusWithError)
		err1, err2 := errors.New("err1"), errors.New("err2")
		bus.Subscribe(func(e *changed) error { return err1 })
		bus.Subscribe(func(e *changed) error { return err2 })

		err := bus.PublishE(&changed{})
		require.ErrorIs(t, err, err1)
		require.ErrorIs(t, err, err2)
	})

	t.Run("panic becomes error", func(t *testing.T) {
		bus := NewEventPublisher(nil).(EventBusWithError)
		called := false
		bus.Subscribe(func(e *changed) error { panic("boom") })
		bus.Subscribe(func(e *changed) error { called = true; return nil })

		require.Error(t, bus.PublishE(&changed{}))
		require.True(t, called)
	})

	t.Run("invalid return", func(t *testing.T) {
		bus := NewEventPublisher(nil).(EventBusWithError)
		bus.Subscribe(func(e *changed) int { return 1 })
		require.ErrorIs(t, bus.PublishE(&changed{}), ErrInvalidHandlerReturn)
	})
}

func handlerA(e *changed) {}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventPublisher(nil)
	bus.Subscribe(handlerA)
	require.Equal(t, 1, bus.SubscribersCount())
	bus.Unsubscribe(handlerA)
	require.Equal(t, 0, bus.SubscribersCount())

	bus.Subscribe(handlerA)
	bus.Clear()
	require.Equal(t, 0, bus.SubscribersCount())
}
