package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/codecast/server/internal/protocol"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	sendBufferSize    = 512
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is the handler for one websocket connection. It is the only
// place that turns this connection's inbound frames into hub
// operations, and its lifetime bounds the participant's membership.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	id      string

	// readPump's view of the current membership. Only the readPump
	// goroutine touches these; the hub works from registration
	// snapshots and the registry.
	roomID string
	joined bool
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), messageBurst),
		id:      uuid.NewString(),
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("Rate limit exceeded for client %s in room %s (warning #%d)",
					c.id, c.roomID, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("Disconnecting client %s for excessive rate limit violations", c.id)
				return
			}
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			log.Printf("Invalid frame from client %s: %v", c.id, err)
			continue
		}

		switch env.Type {
		case protocol.EventJoin:
			c.handleJoin(env)

		case protocol.EventCodeChange:
			if !c.joined {
				continue
			}
			// Relayed byte-for-byte so the document text is never
			// touched server-side.
			c.hub.broadcast <- &Message{RoomID: c.roomID, Data: data, Sender: c}

		case protocol.EventSyncRequest:
			if !c.joined {
				continue
			}
			var p protocol.SyncRequestPayload
			if err := protocol.DecodePayload(env, &p); err != nil {
				log.Printf("Invalid sync-request from client %s: %v", c.id, err)
				continue
			}
			if p.TargetConnectionID == "" {
				continue
			}
			c.hub.direct <- &Direct{TargetID: p.TargetConnectionID, Data: data}

		default:
			log.Printf("Unknown event %q from client %s", env.Type, c.id)
		}
	}
}

func (c *Client) handleJoin(env *protocol.Envelope) {
	var p protocol.JoinPayload
	if err := protocol.DecodePayload(env, &p); err != nil {
		log.Printf("Invalid join from client %s: %v", c.id, err)
		return
	}

	if p.RoomID == "" || p.DisplayName == "" {
		// The client UI validates this before connecting, but the
		// server cannot rely on that.
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation,
			"room id and display name are required")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return
	}

	c.roomID = p.RoomID
	c.joined = true
	c.hub.register <- &registration{client: c, roomID: p.RoomID, displayName: p.DisplayName}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
