package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RequestType is the wire discriminator of a client frame.
type RequestType string

const (
	RequestAuthenticate RequestType = "authenticate"
	RequestJoinRoom     RequestType = "join_room"
	RequestLeaveRoom    RequestType = "leave_room"
	RequestSendMessage  RequestType = "send_message"
	RequestRaiseHand    RequestType = "raise_hand"
	RequestMuteUser     RequestType = "mute_user"
	RequestUnmuteUser   RequestType = "unmute_user"
)

// ClientFrame is the raw JSON shape of every client frame.
type ClientFrame struct {
	Type     RequestType     `json:"type"`
	RoomID   json.RawMessage `json:"roomId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	To       string          `json:"to,omitempty"`
	Raised   bool            `json:"raised,omitempty"`
	UserID   string          `json:"userId,omitempty"`
	Token    string          `json:"token,omitempty"`
	UserRole string          `json:"userRole,omitempty"`
	UserName string          `json:"userName,omitempty"`
}

// Request is one decoded client request. The concrete types below are the
// complete set; callers match them with a type switch.
type Request interface {
	Kind() RequestType
}

type Authenticate struct {
	Token    string
	Role     Role
	UserName string
}

type JoinRoom struct{ RoomID string }

type LeaveRoom struct{ RoomID string }

// Chat is a broadcast text message.
type Chat struct {
	RoomID string
	Text   string
}

// Emoji is a broadcast reaction drawn from AllowedEmojis.
type Emoji struct {
	RoomID string
	Value  string
}

// Signal is an opaque WebRTC negotiation payload for one participant.
type Signal struct {
	RoomID  string
	To      string
	Payload json.RawMessage
}

type RaiseHand struct {
	RoomID string
	Raised bool
}

type Mute struct {
	RoomID string
	Target string
}

type Unmute struct {
	RoomID string
	Target string
}

func (Authenticate) Kind() RequestType { return RequestAuthenticate }
func (JoinRoom) Kind() RequestType     { return RequestJoinRoom }
func (LeaveRoom) Kind() RequestType    { return RequestLeaveRoom }
func (Chat) Kind() RequestType         { return RequestSendMessage }
func (Emoji) Kind() RequestType        { return RequestSendMessage }
func (Signal) Kind() RequestType       { return RequestSendMessage }
func (RaiseHand) Kind() RequestType    { return RequestRaiseHand }
func (Mute) Kind() RequestType         { return RequestMuteUser }
func (Unmute) Kind() RequestType       { return RequestUnmuteUser }

// messageData is the payload of send_message when it is not a signal.
type messageData struct {
	Chat *struct {
		Text string `json:"text"`
	} `json:"chat,omitempty"`
	Emoji *string `json:"emoji,omitempty"`
}

// DecodeRequest parses a client frame into its typed request.
func DecodeRequest(raw []byte) (Request, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	roomID, err := decodeRoomID(f.RoomID)
	if err != nil {
		return nil, err
	}

	switch f.Type {
	case RequestAuthenticate:
		return Authenticate{Token: f.Token, Role: Role(f.UserRole), UserName: f.UserName}, nil
	case RequestJoinRoom:
		if roomID == "" {
			return nil, fmt.Errorf("%w: roomId is required", ErrInvalidMessage)
		}
		return JoinRoom{RoomID: roomID}, nil
	case RequestLeaveRoom:
		return LeaveRoom{RoomID: roomID}, nil
	case RequestSendMessage:
		return decodeSendMessage(roomID, f)
	case RequestRaiseHand:
		return RaiseHand{RoomID: roomID, Raised: f.Raised}, nil
	case RequestMuteUser, RequestUnmuteUser:
		if f.UserID == "" {
			return nil, fmt.Errorf("%w: userId is required", ErrInvalidMessage)
		}
		if f.Type == RequestMuteUser {
			return Mute{RoomID: roomID, Target: f.UserID}, nil
		}
		return Unmute{RoomID: roomID, Target: f.UserID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, f.Type)
	}
}

func decodeSendMessage(roomID string, f ClientFrame) (Request, error) {
	if f.To != "" {
		return Signal{RoomID: roomID, To: f.To, Payload: f.Data}, nil
	}
	if len(f.Data) == 0 {
		return nil, fmt.Errorf("%w: data is required", ErrInvalidMessage)
	}

	var d messageData
	if err := json.Unmarshal(f.Data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	switch {
	case d.Chat != nil:
		return Chat{RoomID: roomID, Text: d.Chat.Text}, nil
	case d.Emoji != nil:
		return Emoji{RoomID: roomID, Value: *d.Emoji}, nil
	default:
		return nil, fmt.Errorf("%w: data must carry chat or emoji", ErrInvalidMessage)
	}
}

// decodeRoomID accepts the room identifier as a JSON string or number, since
// class session ids are integer primary keys.
func decodeRoomID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: roomId must be a string or number", ErrInvalidMessage)
}

// EventType names a server-to-client frame.
type EventType string

const (
	EventRoomJoined       EventType = "room_joined"
	EventRoomLeft         EventType = "room_left"
	EventPeerJoined       EventType = "peer_joined"
	EventPeerLeft         EventType = "peer_left"
	EventParticipantCount EventType = "participant_count"
	EventRaisedHands      EventType = "raised_hands_update"
	EventMessageReceived  EventType = "message_received"
	EventMute             EventType = "mute"
	EventUnmute           EventType = "unmute"
	EventError            EventType = "error"
)

// Event is a server-to-client frame.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

type RoomJoinedPayload struct {
	Room RoomSnapshot `json:"room"`
}

type RoomLeftPayload struct {
	RoomID string `json:"roomId"`
}

type PeerJoinedPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type PeerLeftPayload struct {
	UserID string `json:"userId"`
}

type ParticipantCountPayload struct {
	Count int64 `json:"count"`
}

type RaisedHandsPayload struct {
	RaisedHands []RaisedHand `json:"raisedHands"`
}

type MessageReceivedPayload struct {
	From string      `json:"from"`
	Data interface{} `json:"data"`
}

type ChatData struct {
	Chat ChatBody `json:"chat"`
}

type ChatBody struct {
	Text     string `json:"text"`
	UserName string `json:"userName"`
}

type EmojiData struct {
	Emoji EmojiBody `json:"emoji"`
}

type EmojiBody struct {
	Value    string `json:"value"`
	UserName string `json:"userName"`
}

type ErrorPayload struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Request RequestType `json:"request,omitempty"`
}

// Empty is the payload of mute and unmute.
type Empty struct{}
