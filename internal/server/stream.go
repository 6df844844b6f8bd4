package server

import (
	"errors"
	"net/http"
	"ticketwatch/internal/notify"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// stream upgrades to a websocket and forwards every message published for
// ?eventId= until either side goes away. With ?stream=changes it forwards
// change batches instead of fetch results.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("eventId")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, errors.New("eventId is required"))
		return
	}
	topic := eventID
	if r.URL.Query().Get("stream") == "changes" {
		topic = notify.ChangesTopic(eventID)
	}

	ctx := r.Context()
	sub, err := s.broker.Subscribe(ctx, topic)
	if err != nil {
		s.tel.ReportBroken("stream.subscribe", err, topic)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer s.broker.Unsubscribe(sub)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the error response
		s.tel.ReportWarning("stream.upgrade", err)
		return
	}
	defer conn.Close()

	// reads are only needed to observe the close frame
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case msg, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "broker closed"),
					time.Now().Add(writeWait),
				)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(msg)
			if err != nil {
				s.tel.ReportWarning("stream.write", err, topic)
				return
			}
		case <-ping.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				return
			}
		}
	}
}
