package api

import (
	"context"
	"net/http"
	"sync"

	"acsm-bridge/internal/orchestrator"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EventHub fans orchestration lifecycle events out to websocket
// subscribers. It is ops visibility only: conversion results are returned
// exactly once on the request itself, never through the feed.
type EventHub struct {
	upgrader  websocket.Upgrader
	logger    *logrus.Entry
	broadcast chan orchestrator.Event

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewEventHub creates an event hub.
func NewEventHub(logger *logrus.Entry) *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:    logger,
		broadcast: make(chan orchestrator.Event, 64),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Emit queues an event for broadcast. It never blocks an orchestration
// run: when the buffer is full the event is dropped.
func (h *EventHub) Emit(event orchestrator.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Debug("Event feed buffer full, dropping event")
	}
}

// Run fans queued events out to connected clients until the context ends.
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// HandleWS upgrades the connection and registers it as a subscriber.
func (h *EventHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.WithField("clients", clientCount).Info("Event feed client connected")

	// Drain inbound frames to observe the close handshake.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				if h.clients[conn] {
					conn.Close()
					delete(h.clients, conn)
				}
				h.mu.Unlock()
				return
			}
		}
	}()
}

func (h *EventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
