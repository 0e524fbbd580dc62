package chathub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"healthcb/backend/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	ID              string
	Identity        string
	ConversationSID string
	Conn            *websocket.Conn
	Hub             *ManagerService
	Send            chan models.ConversationEvent

	closeOnce sync.Once
}

func (c *WebSocketClient) GetClientID() string                             { return c.ID }
func (c *WebSocketClient) GetIdentity() string                             { return c.Identity }
func (c *WebSocketClient) GetConversationSID() string                      { return c.ConversationSID }
func (c *WebSocketClient) GetSendChannel() chan<- models.ConversationEvent { return c.Send }

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes Send, which stops writePump.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// readPump reads send requests from the socket and hands them to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.UnregisterCh <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.Hub.Log.Warn("stream read failed", zap.String("client_id", c.ID), zap.Error(err))
			}
			break
		}

		var event models.ConversationEvent
		if err := json.Unmarshal(data, &event); err != nil {
			c.Hub.Log.Warn("invalid stream frame", zap.String("client_id", c.ID), zap.Error(err))
			continue
		}
		if event.Type != models.EventSend {
			continue
		}

		// Identity and conversation come from the authenticated connection, never the frame.
		event.Identity = c.Identity
		event.ConversationSID = c.ConversationSID

		c.Hub.IncomingCh <- event
	}
}

// writePump writes events from Send to the socket and keeps the connection alive.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
