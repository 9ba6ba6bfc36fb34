package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest is an inbound frame.
type wsRequest struct {
	Type       string          `json:"type"`
	StreamName string          `json:"streamName,omitempty"`
	Target     string          `json:"target,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// wsResponse is an outbound frame.
type wsResponse struct {
	Type       string `json:"type"`
	StreamName string `json:"streamName,omitempty"`
	Data       any    `json:"data,omitempty"`
	Count      *int   `json:"count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// wsClient serializes writes and tracks per-connection subscriptions.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
	subs map[string]string // stream name -> subscription id
}

func (c *wsClient) send(msg wsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteJSON(msg)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &wsClient{conn: conn, subs: make(map[string]string)}
	defer s.closeClient(client)

	client.send(wsResponse{Type: "connected"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			client.send(wsResponse{Type: "error", Error: "invalid frame"})
			continue
		}
		s.handleFrame(c.Request.Context(), client, req)
	}
}

func (s *Server) handleFrame(ctx context.Context, client *wsClient, req wsRequest) {
	mgr := s.eng.Manager()
	switch req.Type {
	case "subscribe":
		name := req.StreamName
		if _, ok := client.subs[name]; ok {
			client.send(wsResponse{Type: "subscribed", StreamName: name})
			return
		}
		id, err := mgr.Subscribe(name, stream.Subscriber{
			OnData: func(_ context.Context, doc document.Document) error {
				client.send(wsResponse{Type: "data", StreamName: name, Data: doc})
				return nil
			},
			OnEnd: func() {
				client.send(wsResponse{Type: "error", StreamName: name, Error: "stream deleted"})
			},
		})
		if err != nil {
			client.send(wsResponse{Type: "error", StreamName: name, Error: err.Error()})
			return
		}
		client.subs[name] = id
		client.send(wsResponse{Type: "subscribed", StreamName: name})

	case "unsubscribe":
		name := req.StreamName
		if id, ok := client.subs[name]; ok {
			_ = mgr.Unsubscribe(id)
			delete(client.subs, name)
		}
		client.send(wsResponse{Type: "unsubscribed", StreamName: name})

	case "insert":
		var doc document.Document
		if err := json.Unmarshal(req.Data, &doc); err != nil {
			client.send(wsResponse{Type: "error", Error: "insert expects a document"})
			return
		}
		n, err := mgr.Insert(ctx, req.Target, doc)
		if err != nil {
			client.send(wsResponse{Type: "error", StreamName: req.Target, Error: err.Error()})
			return
		}
		client.send(wsResponse{Type: "insert_response", StreamName: req.Target, Count: &n})

	case "batch_insert":
		var docs []document.Document
		if err := json.Unmarshal(req.Data, &docs); err != nil {
			client.send(wsResponse{Type: "error", Error: "batch_insert expects an array of documents"})
			return
		}
		n, err := mgr.Insert(ctx, req.Target, docs...)
		if err != nil {
			client.send(wsResponse{Type: "error", StreamName: req.Target, Error: err.Error()})
			return
		}
		client.send(wsResponse{Type: "insert_response", StreamName: req.Target, Count: &n})

	default:
		client.send(wsResponse{Type: "error", Error: "unknown frame type: " + req.Type})
	}
}

func (s *Server) closeClient(client *wsClient) {
	mgr := s.eng.Manager()
	for _, id := range client.subs {
		_ = mgr.Unsubscribe(id)
	}
	_ = client.conn.Close()
}
