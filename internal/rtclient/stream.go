package rtclient

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"healthcb/backend/internal/models"
)

// messageStream is the websocket carrying one conversation's live events.
type messageStream struct {
	conv    *remoteConversation
	conn    *websocket.Conn
	closing atomic.Bool
}

func dialStream(ctx context.Context, rc *remoteConversation) (*messageStream, error) {
	target := *rc.client.streamURL
	target.Path += rc.path("/stream")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+rc.client.api.Token)

	conn, resp, err := rc.client.dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "open message stream for %s (status %d)", rc.desc.SID, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "open message stream for %s", rc.desc.SID)
	}
	return &messageStream{conv: rc, conn: conn}, nil
}

func (s *messageStream) readLoop() {
	defer s.conv.streamEnded(s)
	log := s.conv.client.log.With(zap.String("conversation_sid", s.conv.desc.SID))

	for {
		var event models.ConversationEvent
		if err := s.conn.ReadJSON(&event); err != nil {
			if !s.closing.Load() {
				log.Warn("message stream closed", zap.Error(err))
				s.conv.errorObservers.emit(errors.Wrap(err, "message stream"))
			}
			s.conn.Close()
			return
		}

		switch event.Type {
		case models.EventMessageAdded:
			if event.Message != nil {
				s.conv.messageObservers.emit(*event.Message)
			}
		case models.EventError:
			s.conv.errorObservers.emit(errors.New(event.Error))
		}
	}
}

func (s *messageStream) close() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.conn.Close()
}
