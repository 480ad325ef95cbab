// Package server is the UI Message Hub's transport: it upgrades incoming
// HTTP connections to WebSocket, performs the connection:ready handshake
// described by §4.1, and hands each connection to uihub.Hub's
// Connect/ReadLoop pair. Grounded on igoryanba-ricochet's
// internal/bridge.Server (an http.Server wrapping a single
// websocket.Upgrader-backed handler with context-driven shutdown),
// generalized from its single-purpose bridge endpoint to this module's
// Hub-backed fan-out.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"goa.design/clue/log"

	"github.com/aaronbassett/paige/internal/app"
	"github.com/aaronbassett/paige/internal/uihub"
)

// Server serves the UI Message Hub's WebSocket endpoint.
type Server struct {
	addr     string
	hub      *uihub.Hub
	app      *app.App
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New builds a Server listening on addr, wiring every inbound handler
// RegisterHandlers knows about against hub/application.
func New(addr string, hub *uihub.Hub, application *app.App) *Server {
	s := &Server{
		addr: addr,
		hub:  hub,
		app:  application,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	RegisterHandlers(hub, application)

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{Addr: s.addr, Handler: s.mux}

	errc := make(chan error, 1)
	go func() { errc <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf(ctx, "server: upgrade: %v", err)
		return
	}
	wsConn := uihub.WSConn{Conn: conn}

	var ready uihub.Envelope
	if err := wsConn.ReadJSON(&ready); err != nil {
		log.Printf(ctx, "server: handshake read: %v", err)
		_ = conn.Close()
		return
	}
	if ready.Type != "connection:ready" {
		log.Printf(ctx, "server: expected connection:ready, got %q", ready.Type)
	}

	init := uihub.InitState{Capabilities: []string{"coaching", "review", "planning"}}
	if sess, ok := s.app.Active(); ok {
		id := sess.ID
		init.SessionID = &id
	}

	clientID, disconnect, err := s.hub.Connect(ctx, wsConn, init)
	if err != nil {
		log.Printf(ctx, "server: connect: %v", err)
		_ = conn.Close()
		return
	}
	defer disconnect()

	if err := s.hub.ReadLoop(ctx, clientID, wsConn); err != nil {
		log.Printf(ctx, "server: read loop for %s: %v", clientID, err)
	}
}
