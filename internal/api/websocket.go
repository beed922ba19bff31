package api

import (
	"log"
	"net/http"

	"ladderbot/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope wraps a bus payload with its event name for the client.
type wsEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

var streamedEvents = []events.Event{
	events.EventPriceTick,
	events.EventOrderPlaced,
	events.EventOrderFilled,
	events.EventOrderCanceled,
	events.EventPairStatus,
	events.EventRiskAlert,
	events.EventConnState,
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[api] ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	// Fan subscriptions for every streamed event into one channel so a
	// single writer owns the connection.
	merged := make(chan wsEnvelope, 256)
	stop := make(chan struct{})
	defer close(stop)

	for _, e := range streamedEvents {
		stream, unsub := s.Bus.Subscribe(e, 100)
		go func(e events.Event, stream <-chan any, unsub func()) {
			defer unsub()
			for {
				select {
				case <-stop:
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					select {
					case merged <- wsEnvelope{Event: string(e), Data: msg}:
					case <-stop:
						return
					default:
						// Slow client, drop the event.
					}
				}
			}
		}(e, stream, unsub)
	}

	// Reader detects client disconnect; inbound messages are ignored.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case env := <-merged:
			if err := conn.WriteJSON(env); err != nil {
				log.Printf("[api] ws write error: %v", err)
				return
			}
		}
	}
}
