package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/coder/websocket"

	"github.com/stellarlinkco/clawgate/internal/bus"
)

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// handleEvents upgrades the connection and streams decision events
// until the client goes away. The feed is one-way; inbound frames are
// read only to detect disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[server] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("events-%d", s.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	s.clients.Store(clientID, client)
	log.Printf("[server] event client connected: %s", clientID)

	defer func() {
		s.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[server] event client disconnected: %s", clientID)
	}()

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Broadcast pushes a decision event to every connected event client.
func (s *Server) Broadcast(ev bus.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[server] marshal event: %v", err)
		return
	}

	s.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		defer cancel()
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			log.Printf("[server] event write to %s: %v", c.id, err)
		}
		return true
	})
}

func (s *Server) closeClients() {
	s.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
}
