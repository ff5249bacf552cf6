package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single websocket write so one stuck viewer cannot
// wedge its write pump.
const writeTimeout = 5 * time.Second

// HandleViewer runs one viewer's connection until it disconnects: an inbound
// pump and an outbound pump, torn down together when either fails or the
// session shuts down. It returns true when the session is empty afterwards,
// in which case the caller removes the session from the registry.
func (s *Session) HandleViewer(ctx context.Context, conn *websocket.Conn, name string) (empty bool) {
	viewerID := s.newViewerID()
	s.AddViewer(viewerID, name)

	// Push current state so the joiner's player can sync before any Join
	// round-trip completes.
	initial := updateMessage(MsgUpdate, unixNow(), s.clock.Estimate(), s.State())
	if err := writeMessage(conn, initial); err != nil && s.log != nil {
		s.log.Debug("failed to push state to new viewer", slog.String("error", err.Error()))
	}

	sub := s.channel.Subscribe(viewerID)
	vctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the conn on cancellation unblocks the blocking read below, so
	// both pumps always terminate together.
	go func() {
		<-vctx.Done()
		conn.Close()
	}()

	go s.writePump(vctx, cancel, conn, sub, viewerID)
	s.readPump(vctx, conn, viewerID, name)
	cancel()

	s.channel.Unsubscribe(viewerID)
	remaining := s.RemoveViewer(viewerID)
	if remaining > 0 {
		s.channel.SendNotification(fmt.Sprintf("%s left the session", name), viewerID)
	}
	return remaining == 0
}

func (s *Session) newViewerID() string {
	for {
		id := uuid.NewString()
		if !s.hasViewer(id) {
			return id
		}
	}
}

// writePump drains the viewer's broadcast subscription. Notifications that
// originated from this viewer are skipped so nobody is told about their own
// actions; raw state updates go to everyone, the originator included, so its
// UI gets the confirmation.
func (s *Session) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub <-chan serverMessage, viewerID string) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			if msg.Type == typeNotification && msg.Origin == viewerID {
				continue
			}
			if err := writeMessage(conn, msg); err != nil {
				if s.log != nil {
					s.log.Debug("viewer write failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// readPump consumes inbound messages until the connection drops, the context
// is cancelled, or the viewer sends something malformed.
func (s *Session) readPump(ctx context.Context, conn *websocket.Conn, viewerID, name string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			// Malformed input terminates only this viewer's connection.
			if s.log != nil {
				s.log.Debug("closing viewer connection",
					slog.String("viewer", viewerID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		s.handleClientMessage(ctx, viewerID, name, msg)
	}
}

func (s *Session) handleClientMessage(ctx context.Context, viewerID, name string, msg clientMessage) {
	if s.metrics != nil {
		s.metrics.IncWSMessages()
	}

	switch msg.Type {
	case typeUpdate:
		s.clock.Update(msg.VideoTime, msg.State == StatePlaying)

		switch msg.MessageType {
		case MsgPause:
			s.setState(StatePaused)
			s.channel.SendThrottled(fmt.Sprintf("%s paused the video", name), viewerID, noticeToggle)
		case MsgPlay:
			s.setState(StatePlaying)
			s.channel.SendThrottled(fmt.Sprintf("%s resumed the video", name), viewerID, noticeToggle)
		case MsgSeek:
			s.channel.SendThrottled(seekText(name, msg.VideoTime), viewerID, noticeSeek)
		case MsgUpdate:
		}

		s.channel.Broadcast(updateMessage(msg.MessageType, msg.Timestamp, msg.VideoTime, msg.State))

	case typeJoin:
		s.channel.Broadcast(updateMessage(MsgState, 0, 0, s.State()))
		s.channel.SendNotification(fmt.Sprintf("%s joined the session", name), viewerID)
		s.channel.Broadcast(joinMessage())

	case typeSwitchTo:
		if err := s.Reuse(ctx, msg.ID); err != nil && s.log != nil {
			s.log.Error("switching session content failed",
				slog.Int64("content_id", msg.ID),
				slog.String("error", err.Error()),
			)
		}
		s.channel.NotifySwitched()
		s.channel.Broadcast(reloadMessage())
	}
}

// seekText renders a human-readable scrub position.
func seekText(name string, pos float64) string {
	total := int(pos)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours == 0 {
		return fmt.Sprintf("%s skipped to %d:%02d", name, minutes, seconds)
	}
	return fmt.Sprintf("%s skipped to %d:%02d:%02d", name, hours, minutes, seconds)
}

func writeMessage(conn *websocket.Conn, msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func unixNow() uint64 {
	return uint64(time.Now().Unix())
}
