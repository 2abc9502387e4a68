package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/core"
)

func TestPublishReachesProjectSubscribers(t *testing.T) {
	b := New()
	ch1, cancel1 := b.Subscribe("p1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("p1")
	defer cancel2()
	other, cancelOther := b.Subscribe("p2")
	defer cancelOther()

	msg := core.NewUserMessage("s1", "t1", "hello")
	b.Publish("p1", MessageCreated(msg))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, TopicMessageCreated, ev.Type)
			assert.Equal(t, msg.ID, ev.MessageID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other:
		t.Fatal("event leaked across projects")
	default:
	}
}

func TestCancelClosesChannelAndIsIdempotent(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("p1")

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic or block.
	b.Publish("p1", Event{Type: TopicMessageDelta})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("p1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish("p1", Event{Type: TopicMessageDelta, Delta: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	require.LessOrEqual(t, received, subscriberBufferSize)
	assert.Positive(t, received)
}

func TestEventConstructors(t *testing.T) {
	user := core.NewUserMessage("s1", "t1", "q")
	reply := core.NewAssistantMessage("s1", "t1", user.ID)
	reply.Finish("stop")

	created := MessageCreated(reply)
	assert.Equal(t, core.RoleAssistant, created.Role)
	assert.Equal(t, user.ID, created.ParentUserMessageID)

	delta := MessageDelta(reply, "hel")
	assert.Equal(t, "hel", delta.Delta)

	finished := MessageFinished(reply)
	assert.Equal(t, "stop", finished.FinishReason)
	assert.False(t, finished.CompletedAt.IsZero())
}
