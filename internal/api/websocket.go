package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"scalpbot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// websocket streams ticks, order updates and risk trips to the client.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	topics := []events.Event{
		events.EventPriceTick,
		events.EventOrderSubmitted,
		events.EventOrderPartial,
		events.EventOrderFilled,
		events.EventOrderCancelled,
		events.EventOrderFailed,
		events.EventRiskTripped,
	}

	merged := make(chan wsEnvelope, 256)
	done := make(chan struct{})
	defer close(done)

	for _, topic := range topics {
		stream, unsub := s.Bus.Subscribe(topic, 100)
		defer unsub()
		go func(topic events.Event, stream <-chan any) {
			for msg := range stream {
				select {
				case merged <- wsEnvelope{Event: string(topic), Payload: msg}:
				case <-done:
					return
				default:
					// slow client, drop
				}
			}
		}(topic, stream)
	}

	for env := range merged {
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
