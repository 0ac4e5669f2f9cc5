// internal/api/handlers/telemetry_handler.go
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/telemetry"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	maxMessage = 4096
	sendBuffer = 16
)

type TelemetryHandler struct {
	channel  *telemetry.Channel
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger

	// pongWait bounds how long a silent peer is kept; pings go out at 9/10 of it
	pongWait time.Duration
}

func NewTelemetryHandler(channel *telemetry.Channel, logger logrus.FieldLogger) *TelemetryHandler {
	return &TelemetryHandler{
		channel: channel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:   logger.WithField("component", "telemetry-ws"),
		pongWait: pongWait,
	}
}

// Stream upgrades the request and pushes analytics frames until the client goes away
func (h *TelemetryHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	sub := newWSSubscriber(conn)
	go sub.readLoop(h.pongWait)
	go sub.writeLoop(h.pongWait * 9 / 10)
	defer sub.close()

	if err := h.channel.Connect(r.Context(), sub); err != nil {
		h.logger.WithError(err).WithField("subscriber", sub.ID()).Warn("Telemetry connect failed")
	}
}

// wsSubscriber adapts a WebSocket connection to telemetry.Subscriber.
// Send only queues; writeLoop is the single writer on the connection.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	done chan struct{}
	once sync.Once
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (s *wsSubscriber) ID() string {
	return s.id
}

func (s *wsSubscriber) Done() <-chan struct{} {
	return s.done
}

// Send never blocks. A peer that lets sendBuffer frames pile up is dropped.
func (s *wsSubscriber) Send(_ context.Context, frame []byte) error {
	select {
	case <-s.done:
		return telemetry.ErrSubscriberClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	default:
		s.close()
		return fmt.Errorf("%w: send buffer full", telemetry.ErrSubscriberClosed)
	}
}

func (s *wsSubscriber) writeLoop(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop discards client messages and detects disconnects
func (s *wsSubscriber) readLoop(wait time.Duration) {
	defer s.close()

	s.conn.SetReadLimit(maxMessage)
	s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(wait))
	}
}

func (s *wsSubscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
