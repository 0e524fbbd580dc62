package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"healthcb/backend/internal/rtclient"
)

// Entry is a message as shown to the user.
type Entry struct {
	Index     uint
	Body      string
	Author    string
	Timestamp time.Time
}

func entryOf(m rtclient.Message) Entry {
	return Entry{Index: m.Index, Body: m.Body, Author: m.Author, Timestamp: m.DateCreated}
}

// MessageStream holds a conversation's history followed by its live
// messages, newest last.
type MessageStream struct {
	conv     rtclient.Conversation
	log      *zap.Logger
	onChange func([]Entry)

	mu       sync.Mutex
	entries  []Entry
	loading  bool
	pending  []rtclient.Message
	detached bool

	messageSub rtclient.Subscription
	errorSub   rtclient.Subscription
}

// AttachMessageStream subscribes to live messages, then loads one history
// page. Live messages that arrive while the page loads are held back and
// appended after it, skipping those whose index the page already contains.
// onChange (may be nil) receives a snapshot after every change. A change that
// races with Detach may still be delivered once.
func AttachMessageStream(ctx context.Context, conv rtclient.Conversation, opts Options, onChange func([]Entry)) (*MessageStream, error) {
	opts = opts.withDefaults()
	s := &MessageStream{
		conv:     conv,
		log:      opts.Logger.With(zap.String("conversation_sid", conv.SID())),
		onChange: onChange,
		loading:  true,
	}

	s.errorSub = conv.OnError(func(err error) {
		s.log.Warn("conversation error", zap.Error(err))
	})
	sub, err := conv.OnMessageAdded(s.handleLive)
	if err != nil {
		s.errorSub.Unsubscribe()
		return nil, errors.Wrap(err, "subscribe to messages")
	}
	s.messageSub = sub

	page, err := conv.Messages(ctx, rtclient.PageOptions{Limit: opts.HistoryPageSize})
	if err != nil {
		// Live messages still flow; history stays empty.
		s.log.Error("failed to load messages", zap.Error(err))
		page = nil
	}
	s.settle(page)
	return s, nil
}

// settle replaces local state with the history page and flushes held back
// live messages.
func (s *MessageStream) settle(page []rtclient.Message) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}

	// Indexes are not contiguous: a message committed late can be missing
	// from the page yet arrive live, so only exact matches are skipped.
	inPage := make(map[uint]struct{}, len(page))
	entries := make([]Entry, 0, len(page)+len(s.pending))
	for _, m := range page {
		entries = append(entries, entryOf(m))
		inPage[m.Index] = struct{}{}
	}
	for _, m := range s.pending {
		if _, ok := inPage[m.Index]; ok && m.Index != 0 {
			continue
		}
		entries = append(entries, entryOf(m))
	}
	s.entries = entries
	s.pending = nil
	s.loading = false
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

func (s *MessageStream) handleLive(m rtclient.Message) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	if s.loading {
		s.pending = append(s.pending, m)
		s.mu.Unlock()
		return
	}
	s.entries = append(s.entries, entryOf(m))
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

func (s *MessageStream) notify(snapshot []Entry) {
	if s.onChange == nil {
		return
	}
	s.mu.Lock()
	detached := s.detached
	s.mu.Unlock()
	if detached {
		return
	}
	s.onChange(snapshot)
}

func (s *MessageStream) snapshotLocked() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Messages returns a copy of the local sequence.
func (s *MessageStream) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *MessageStream) Conversation() rtclient.Conversation {
	return s.conv
}

// Detach stops live updates. No message is appended afterwards.
func (s *MessageStream) Detach() {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	s.pending = nil
	s.mu.Unlock()

	s.messageSub.Unsubscribe()
	s.errorSub.Unsubscribe()
}
