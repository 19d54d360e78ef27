/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"context"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/caninspect/internal/events"
)

const wsWriteTimeout = 5 * time.Second

// eventMessage is one event as sent to browsers.
type eventMessage struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
	Time    time.Time        `json:"time"`
}

// EventsWebSocket relays conveyor and robot events to the browser as JSON
// text messages until the client disconnects.
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "Event bus not configured", http.StatusServiceUnavailable)
		return
	}

	// Same-origin only; Accept rejects foreign Origin headers.
	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// The client never sends; CloseRead cancels ctx once it goes away.
	ctx := conn.CloseRead(r.Context())

	merged := make(chan eventMessage, 64)
	for _, eventType := range events.AllEventTypes {
		sub := h.bus.Subscribe(eventType)
		defer h.bus.Unsubscribe(eventType, sub)
		go forward(ctx, eventType, sub, merged)
	}

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("event websocket connected")

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case msg := <-merged:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				h.logger.Debug().Err(err).Msg("websocket write failed, client disconnected")
				return
			}
		}
	}
}

// forward copies one subscription into the merged stream. Events are dropped
// when the client falls behind.
func forward(ctx context.Context, eventType events.EventType, sub events.Subscriber, out chan<- eventMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			select {
			case out <- eventMessage{Type: eventType, Payload: payload, Time: time.Now().UTC()}:
			default:
			}
		}
	}
}
