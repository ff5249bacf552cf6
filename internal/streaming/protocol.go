package streaming

import (
	"encoding/json"
	"fmt"
)

// PlaybackState is the session-global playback state. All viewers of a
// session are assumed to watch the same position.
type PlaybackState string

const (
	StatePlaying PlaybackState = "Playing"
	StatePaused  PlaybackState = "Paused"
)

// MessageType qualifies an Update message.
type MessageType string

const (
	MsgPlay  MessageType = "Play"
	MsgPause MessageType = "Pause"
	MsgSeek  MessageType = "Seek"
	// MsgState marks a server-pushed state snapshot; clients never send it.
	MsgState  MessageType = "State"
	MsgUpdate MessageType = "Update"
)

// Inbound message type tags.
const (
	typeUpdate   = "Update"
	typeJoin     = "Join"
	typeSwitchTo = "SwitchTo"

	typeNotification = "Notification"
	typeReload       = "Reload"
)

// clientMessage is one JSON-tagged inbound viewer message.
type clientMessage struct {
	Type        string        `json:"type"`
	MessageType MessageType   `json:"message_type,omitempty"`
	Timestamp   uint64        `json:"timestamp,omitempty"`
	VideoTime   float64       `json:"video_time,omitempty"`
	State       PlaybackState `json:"state,omitempty"`
	ID          int64         `json:"id,omitempty"`
}

// parseClientMessage decodes and validates an inbound message. Anything
// malformed terminates that viewer's connection, so validation is strict.
func parseClientMessage(data []byte) (clientMessage, error) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return clientMessage{}, fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Type {
	case typeJoin, typeSwitchTo:
		return msg, nil
	case typeUpdate:
		switch msg.MessageType {
		case MsgPlay, MsgPause, MsgSeek, MsgUpdate:
		default:
			return clientMessage{}, fmt.Errorf("malformed message: bad message_type %q", msg.MessageType)
		}
		switch msg.State {
		case StatePlaying, StatePaused:
		default:
			return clientMessage{}, fmt.Errorf("malformed message: bad state %q", msg.State)
		}
		return msg, nil
	default:
		return clientMessage{}, fmt.Errorf("malformed message: bad type %q", msg.Type)
	}
}

// serverMessage is one JSON-tagged outbound message.
type serverMessage struct {
	Type        string        `json:"type"`
	Msg         string        `json:"msg,omitempty"`
	Origin      string        `json:"origin,omitempty"`
	MessageType MessageType   `json:"message_type,omitempty"`
	Timestamp   uint64        `json:"timestamp,omitempty"`
	VideoTime   float64       `json:"video_time,omitempty"`
	State       PlaybackState `json:"state,omitempty"`
}

func notificationMessage(msg, origin string) serverMessage {
	return serverMessage{Type: typeNotification, Msg: msg, Origin: origin}
}

func updateMessage(mt MessageType, timestamp uint64, videoTime float64, state PlaybackState) serverMessage {
	return serverMessage{
		Type:        typeUpdate,
		MessageType: mt,
		Timestamp:   timestamp,
		VideoTime:   videoTime,
		State:       state,
	}
}

func reloadMessage() serverMessage {
	return serverMessage{Type: typeReload}
}

func joinMessage() serverMessage {
	return serverMessage{Type: typeJoin}
}
