package conversation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcb/backend/internal/conversation"
	"healthcb/backend/internal/rtclient"
)

func msg(index uint, author, body string) rtclient.Message {
	return rtclient.Message{Index: index, Author: author, Body: body, DateCreated: time.Unix(int64(index), 0)}
}

func bodies(entries []conversation.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Body)
	}
	return out
}

func streamFixture(t *testing.T, history ...rtclient.Message) (*backend, *conversationState, *handle) {
	t.Helper()
	b := newBackend()
	st := b.seed("room-42", "alice", "dr-bob")
	st.messages = history
	return b, st, handleFor(t, newFakeClient(b, "alice"))
}

func TestMessageStream_HistoryOrder(t *testing.T) {
	_, _, conv := streamFixture(t, msg(1, "alice", "hi"), msg(2, "dr-bob", "hello"), msg(3, "alice", "how are you"))

	s, err := conversation.AttachMessageStream(context.Background(), conv, conversation.Options{}, nil)
	require.NoError(t, err)
	defer s.Detach()

	got := s.Messages()
	assert.Equal(t, []string{"hi", "hello", "how are you"}, bodies(got))
	assert.Equal(t, "dr-bob", got[1].Author)
	assert.Equal(t, time.Unix(2, 0), got[1].Timestamp)
}

func TestMessageStream_HistoryPageSize(t *testing.T) {
	_, _, conv := streamFixture(t, msg(1, "a", "1"), msg(2, "a", "2"), msg(3, "a", "3"))

	s, err := conversation.AttachMessageStream(context.Background(), conv, conversation.Options{HistoryPageSize: 2}, nil)
	require.NoError(t, err)
	defer s.Detach()

	assert.Equal(t, []string{"2", "3"}, bodies(s.Messages()))
}

func TestMessageStream_LiveAppends(t *testing.T) {
	b, st, conv := streamFixture(t, msg(1, "alice", "hi"))

	var mu sync.Mutex
	var snapshots [][]conversation.Entry
	s, err := conversation.AttachMessageStream(context.Background(), conv, conversation.Options{}, func(e []conversation.Entry) {
		mu.Lock()
		snapshots = append(snapshots, e)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer s.Detach()

	before := s.Messages()
	b.push(st, msg(2, "dr-bob", "hello"))
	after := s.Messages()

	require.Len(t, after, len(before)+1)
	assert.Equal(t, before, after[:len(before)], "prior entries are unchanged")
	assert.Equal(t, "hello", after[len(after)-1].Body)

	// Live events are never deduplicated once history settled.
	b.push(st, msg(2, "dr-bob", "hello"))
	assert.Len(t, s.Messages(), 3)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 3, "history settle plus two appends")
	assert.Len(t, snapshots[0], 1)
}

func TestMessageStream_LiveDuringHistoryLoad(t *testing.T) {
	b, st, conv := streamFixture(t, msg(1, "alice", "one"), msg(2, "dr-bob", "two"))
	st.onPage = func() {
		// Delivered while the page is in flight: index 2 is already in the
		// page, index 3 is new.
		b.push(st, msg(2, "dr-bob", "two"))
		b.push(st, msg(3, "alice", "three"))
	}

	s, err := conversation.AttachMessageStream(context.Background(), conv, conversation.Options{}, nil)
	require.NoError(t, err)
	defer s.Detach()

	assert.Equal(t, []string{"one", "two", "three"}, bodies(s.Messages()))
}

func TestMessageStream_LiveDuringHistoryLoad_OutOfOrderIndex(t *testing.T) {
	// Message 2 committed after 3: the page lacks it but the live event
	// carries it.
	b, st, conv := streamFixture(t, msg(1, "alice", "one"), msg(3, "alice", "three"))
	st.onPage = func() {
		b.push(st, msg(2, "dr-bob", "two"))
		b.push(st, msg(3, "alice", "three"))
	}

	s, err := conversation.AttachMessageStream(context.Background(), conv, conversation.Options{}, nil)
	require.NoError(t, err)
	defer s.Detach()

	assert.Equal(t, []string{"one", "three", "two"}, bodies(s.Messages()))
}

func TestMessageStream_HistoryFailure(t *testing.T) {
	b, st, conv := streamFixture(t)
	st.pageErr = errors.New("history unavailable")

	s, err := conversation.AttachMessageStream(context.Background(), conv, conversation.Options{}, nil)
	require.NoError(t, err)
	defer s.Detach()

	assert.Empty(t, s.Messages())
	b.push(st, msg(9, "dr-bob", "still live"))
	assert.Equal(t, []string{"still live"}, bodies(s.Messages()))
}

func TestMessageStream_Detach(t *testing.T) {
	b, st, conv := streamFixture(t, msg(1, "alice", "hi"))

	s, err := conversation.AttachMessageStream(context.Background(), conv, conversation.Options{}, nil)
	require.NoError(t, err)

	s.Detach()
	s.Detach()
	b.push(st, msg(2, "dr-bob", "too late"))

	assert.Equal(t, []string{"hi"}, bodies(s.Messages()))
	b.mu.Lock()
	assert.Empty(t, st.subs, "observers are unregistered")
	b.mu.Unlock()
}

func TestMessageStream_DetachFromCallback(t *testing.T) {
	b, st, conv := streamFixture(t, msg(1, "alice", "hi"))

	var (
		mu     sync.Mutex
		calls  int
		stream *conversation.MessageStream
	)
	ready := make(chan struct{})
	s, err := conversation.AttachMessageStream(context.Background(), conv, conversation.Options{}, func([]conversation.Entry) {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case <-ready:
			stream.Detach()
		default:
		}
	})
	require.NoError(t, err)
	stream = s
	close(ready)

	b.push(st, msg(2, "dr-bob", "hello"))
	b.push(st, msg(3, "dr-bob", "after detach"))

	assert.Equal(t, []string{"hi", "hello"}, bodies(s.Messages()))
	mu.Lock()
	assert.Equal(t, 2, calls, "history settle plus the append that detached")
	mu.Unlock()
}

func TestMessageStream_DetachWhileDelivering(t *testing.T) {
	for i := 0; i < 20; i++ {
		b, st, conv := streamFixture(t)

		var (
			mu       sync.Mutex
			detached bool
			late     int
		)
		s, err := conversation.AttachMessageStream(context.Background(), conv, conversation.Options{}, func([]conversation.Entry) {
			mu.Lock()
			if detached {
				late++
			}
			mu.Unlock()
		})
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := uint(1); j <= 50; j++ {
				b.push(st, msg(j, "dr-bob", "x"))
			}
		}()

		s.Detach()
		mu.Lock()
		detached = true
		mu.Unlock()
		<-done

		mu.Lock()
		assert.LessOrEqual(t, late, 1, "only a change racing with Detach may still be delivered")
		mu.Unlock()
	}
}

func TestMessageStream_SubscribeFailure(t *testing.T) {
	_, err := conversation.AttachMessageStream(context.Background(), &noStream{}, conversation.Options{}, nil)
	assert.Error(t, err)
}

type noStream struct {
	rtclient.Conversation
}

func (n *noStream) SID() string { return "CH9" }

func (n *noStream) OnError(fn func(error)) rtclient.Subscription { return unsubscribeFunc(func() {}) }

func (n *noStream) OnMessageAdded(fn func(rtclient.Message)) (rtclient.Subscription, error) {
	return nil, errors.New("stream refused")
}
