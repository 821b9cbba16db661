// Package classroom implements the room rules: who may join which class,
// what a participant may do once inside, and which events each action fans
// out to the rest of the room.
package classroom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/logger"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/session"
	"github.com/rs/zerolog"
)

// Presence is the shared per-room membership state.
type Presence interface {
	AddParticipant(ctx context.Context, roomID, handle, displayName string) error
	RemoveParticipant(ctx context.Context, roomID, handle string) (bool, error)
	IsParticipant(ctx context.Context, roomID, handle string) (bool, error)
	Count(ctx context.Context, roomID string) (int64, error)
	SetHand(ctx context.Context, roomID, handle string, raised bool) error
	RaisedHands(ctx context.Context, roomID string) ([]models.RaisedHand, error)
}

// Bus delivers events to connections wherever they are served.
type Bus interface {
	EmitTo(ctx context.Context, handle string, event models.Event) error
	BroadcastToRoom(ctx context.Context, roomID string, event models.Event, exclude string) error
	JoinRoom(handle, roomID string)
	LeaveRoom(handle, roomID string)
}

// Oracle answers whether a class session exists and who may attend it.
type Oracle interface {
	Session(ctx context.Context, sessionID string) (models.ClassSession, error)
	IsAuthorizedForSession(ctx context.Context, userID string, role models.Role, sessionID string) (bool, error)
}

// Options tunes admission and cleanup. Zero values get defaults in New.
type Options struct {
	// EnforceWindow rejects joins outside the session's scheduled time.
	EnforceWindow bool
	// JoinLead opens a room this long before its scheduled start.
	JoinLead time.Duration
	// DirectoryTimeout bounds the admission lookups made for one join.
	DirectoryTimeout time.Duration
	// CleanupTimeout bounds the leave that runs when a connection drops.
	CleanupTimeout time.Duration
	Now            func() time.Time
}

// Coordinator applies room actions for authenticated connections.
type Coordinator struct {
	sessions *session.Registry
	presence Presence
	bus      Bus
	oracle   Oracle
	opts     Options
	log      zerolog.Logger
}

// New returns a Coordinator over the given registry, presence store, event
// bus and authorization oracle.
func New(sessions *session.Registry, presence Presence, bus Bus, oracle Oracle, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 5 * time.Second
	}
	if opts.DirectoryTimeout <= 0 {
		opts.DirectoryTimeout = 5 * time.Second
	}
	return &Coordinator{
		sessions: sessions,
		presence: presence,
		bus:      bus,
		oracle:   oracle,
		opts:     opts,
		log:      logger.Module("classroom"),
	}
}

// Join admits handle into roomID and announces it to the room. Joining the
// current room again only repeats the confirmation. Joining another room
// leaves the current one first.
func (c *Coordinator) Join(ctx context.Context, handle, roomID string) (models.RoomSnapshot, error) {
	s, err := c.caller(handle)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	if s.State == session.InRoom && s.RoomID == roomID {
		c.emit(ctx, handle, models.Event{Type: models.EventRoomJoined, Payload: models.RoomJoinedPayload{Room: s.Snapshot}})
		return s.Snapshot, nil
	}

	if err := c.admit(ctx, s, roomID); err != nil {
		return models.RoomSnapshot{}, err
	}

	if s.State == session.InRoom {
		if err := c.Leave(ctx, handle, s.RoomID); err != nil {
			return models.RoomSnapshot{}, fmt.Errorf("leave %s before joining %s: %w", s.RoomID, roomID, err)
		}
	}

	if err := c.presence.AddParticipant(ctx, roomID, handle, s.DisplayName); err != nil {
		c.compensate(ctx, roomID, handle)
		return models.RoomSnapshot{}, fmt.Errorf("join %s: %w", roomID, err)
	}
	count, err := c.presence.Count(ctx, roomID)
	if err != nil {
		c.compensate(ctx, roomID, handle)
		return models.RoomSnapshot{}, fmt.Errorf("join %s: %w", roomID, err)
	}

	snapshot := models.RoomSnapshot{
		ID:               roomID,
		Name:             "Class " + roomID,
		CreatedBy:        s.DisplayName,
		ParticipantCount: count,
		Opts:             map[string]interface{}{},
	}
	if _, err := c.sessions.EnterRoom(handle, roomID, snapshot); err != nil {
		c.compensate(ctx, roomID, handle)
		return models.RoomSnapshot{}, err
	}
	c.bus.JoinRoom(handle, roomID)

	c.emit(ctx, handle, models.Event{Type: models.EventRoomJoined, Payload: models.RoomJoinedPayload{Room: snapshot}})
	c.broadcast(ctx, roomID, models.Event{
		Type:    models.EventPeerJoined,
		Payload: models.PeerJoinedPayload{UserID: handle, UserName: s.DisplayName},
	}, handle)
	c.broadcast(ctx, roomID, countEvent(count), "")
	if err := c.publishHands(ctx, roomID); err != nil {
		c.log.Warn().Err(err).Str("room", roomID).Msg("raised hands not published after join")
	}

	c.log.Info().
		Str("handle", handle).
		Str("room", roomID).
		Str("role", string(s.Role)).
		Int64("participants", count).
		Msg("participant joined")
	return snapshot, nil
}

// admit checks the room exists, is open and admits this user. The oracle
// gets DirectoryTimeout for both lookups together.
func (c *Coordinator) admit(ctx context.Context, s session.Session, roomID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DirectoryTimeout)
	defer cancel()

	cs, err := c.oracle.Session(ctx, roomID)
	if err != nil {
		return directoryError(ctx, err)
	}
	if c.opts.EnforceWindow {
		if !cs.Joinable(c.opts.Now(), c.opts.JoinLead) {
			return fmt.Errorf("%w: session %s is not open", models.ErrRoomNotFound, roomID)
		}
	} else if !cs.IsActive {
		return fmt.Errorf("%w: session %s is not active", models.ErrRoomNotFound, roomID)
	}

	ok, err := c.oracle.IsAuthorizedForSession(ctx, s.Identity.UserID, s.Role, roomID)
	if err != nil {
		return directoryError(ctx, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s may not attend session %s", models.ErrForbidden, s.Role, s.Identity.UserID, roomID)
	}
	return nil
}

// directoryError reports a lookup cut off by its deadline as an outage.
func directoryError(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, models.ErrDirectoryUnavailable) {
		return fmt.Errorf("%w: %v", models.ErrDirectoryUnavailable, err)
	}
	return err
}

// compensate undoes a partial join. It runs even if ctx is already done.
func (c *Coordinator) compensate(ctx context.Context, roomID, handle string) {
	if _, err := c.presence.RemoveParticipant(context.WithoutCancel(ctx), roomID, handle); err != nil {
		c.log.Error().Err(err).Str("handle", handle).Str("room", roomID).Msg("could not undo partial join")
	}
}

// Leave removes handle from roomID, or from its current room when roomID is
// empty. Leaving a room the connection is not in does nothing.
func (c *Coordinator) Leave(ctx context.Context, handle, roomID string) error {
	s, ok := c.sessions.Get(handle)
	if !ok {
		return models.ErrUnknownHandle
	}
	if roomID == "" {
		roomID = s.RoomID
	}
	if roomID == "" {
		return nil
	}

	// Remove before the state change so a failed removal can be retried by
	// the disconnect cleanup.
	removed, err := c.presence.RemoveParticipant(ctx, roomID, handle)
	if err != nil {
		return fmt.Errorf("leave %s: %w", roomID, err)
	}
	exited := c.sessions.ExitRoom(handle, roomID)
	if !removed && !exited {
		return nil
	}

	c.bus.LeaveRoom(handle, roomID)
	c.announceDeparture(ctx, roomID, handle)
	c.emit(ctx, handle, models.Event{Type: models.EventRoomLeft, Payload: models.RoomLeftPayload{RoomID: roomID}})

	c.log.Info().Str("handle", handle).Str("room", roomID).Msg("participant left")
	return nil
}

// Disconnect retires handle, leaving its room if it was in one. Failures are
// logged; nobody is waiting on the result.
func (c *Coordinator) Disconnect(ctx context.Context, handle string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CleanupTimeout)
	defer cancel()

	err := c.sessions.OnDisconnect(ctx, handle, func(ctx context.Context, s session.Session) error {
		c.bus.LeaveRoom(handle, s.RoomID)
		if _, err := c.presence.RemoveParticipant(ctx, s.RoomID, handle); err != nil {
			return err
		}
		c.announceDeparture(ctx, s.RoomID, handle)
		c.log.Info().Str("handle", handle).Str("room", s.RoomID).Msg("participant disconnected")
		return nil
	})
	if err != nil {
		c.log.Error().Err(err).Str("handle", handle).Msg("disconnect cleanup failed")
	}
}

func (c *Coordinator) announceDeparture(ctx context.Context, roomID, handle string) {
	if count, err := c.presence.Count(ctx, roomID); err != nil {
		c.log.Warn().Err(err).Str("room", roomID).Msg("participant count unavailable")
	} else {
		c.broadcast(ctx, roomID, countEvent(count), "")
	}
	c.broadcast(ctx, roomID, models.Event{Type: models.EventPeerLeft, Payload: models.PeerLeftPayload{UserID: handle}}, handle)
	if err := c.publishHands(ctx, roomID); err != nil {
		c.log.Warn().Err(err).Str("room", roomID).Msg("raised hands not published after leave")
	}
}

// SendMessage handles chat, emoji and signaling requests. Invalid chat and
// emoji content is reported as ErrInvalidMessage and nothing is sent.
func (c *Coordinator) SendMessage(ctx context.Context, handle string, msg models.Request) error {
	var roomID string
	switch m := msg.(type) {
	case models.Chat:
		roomID = m.RoomID
	case models.Emoji:
		roomID = m.RoomID
	case models.Signal:
		roomID = m.RoomID
	default:
		return fmt.Errorf("%w: %s is not a message", models.ErrUnknownRequest, msg.Kind())
	}

	s, err := c.caller(handle)
	if err != nil {
		return err
	}
	roomID, err = inRoom(s, roomID)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case models.Signal:
		return c.signal(ctx, s, roomID, m)
	case models.Chat:
		text := strings.TrimSpace(m.Text)
		if text == "" || utf8.RuneCountInString(text) > models.MaxChatLength {
			return fmt.Errorf("%w: chat text must be 1 to %d characters", models.ErrInvalidMessage, models.MaxChatLength)
		}
		return c.bus.BroadcastToRoom(ctx, roomID, models.Event{
			Type: models.EventMessageReceived,
			Payload: models.MessageReceivedPayload{
				From: s.DisplayName,
				Data: models.ChatData{Chat: models.ChatBody{Text: text, UserName: s.DisplayName}},
			},
		}, "")
	case models.Emoji:
		value := strings.TrimSpace(m.Value)
		if !models.AllowedEmojis[value] {
			return fmt.Errorf("%w: emoji %q is not allowed", models.ErrInvalidMessage, value)
		}
		return c.bus.BroadcastToRoom(ctx, roomID, models.Event{
			Type: models.EventMessageReceived,
			Payload: models.MessageReceivedPayload{
				From: s.DisplayName,
				Data: models.EmojiData{Emoji: models.EmojiBody{Value: value, UserName: s.DisplayName}},
			},
		}, "")
	}
	return nil
}

func (c *Coordinator) signal(ctx context.Context, s session.Session, roomID string, m models.Signal) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return fmt.Errorf("%w: empty signaling payload", models.ErrInvalidMessage)
	}
	if err := c.requireParticipant(ctx, roomID, m.To); err != nil {
		return err
	}
	return c.bus.EmitTo(ctx, m.To, models.Event{
		Type:    models.EventMessageReceived,
		Payload: models.MessageReceivedPayload{From: s.Handle, Data: m.Payload},
	})
}

// RaiseHand raises or lowers a student's hand and republishes the list.
func (c *Coordinator) RaiseHand(ctx context.Context, handle, roomID string, raised bool) error {
	s, err := c.caller(handle)
	if err != nil {
		return err
	}
	if s.Role != models.RoleStudent {
		return fmt.Errorf("%w: only students raise hands", models.ErrForbidden)
	}
	roomID, err = inRoom(s, roomID)
	if err != nil {
		return err
	}

	if err := c.presence.SetHand(ctx, roomID, handle, raised); err != nil {
		return err
	}
	return c.publishHands(ctx, roomID)
}

// Mute tells target to mute its microphone.
func (c *Coordinator) Mute(ctx context.Context, handle, roomID, target string) error {
	roomID, err := c.moderate(ctx, handle, roomID, target)
	if err != nil {
		return err
	}
	c.log.Info().Str("room", roomID).Str("target", target).Msg("participant muted")
	return c.bus.EmitTo(ctx, target, models.Event{Type: models.EventMute, Payload: models.Empty{}})
}

// Unmute tells target to unmute, lowers its hand and republishes the list.
// Once the hand is lowered the list is republished even if the unmute event
// could not be delivered.
func (c *Coordinator) Unmute(ctx context.Context, handle, roomID, target string) error {
	roomID, err := c.moderate(ctx, handle, roomID, target)
	if err != nil {
		return err
	}
	if err := c.presence.SetHand(ctx, roomID, target, false); err != nil {
		return err
	}
	emitErr := c.bus.EmitTo(ctx, target, models.Event{Type: models.EventUnmute, Payload: models.Empty{}})
	if emitErr == nil {
		c.log.Info().Str("room", roomID).Str("target", target).Msg("participant unmuted")
	}
	return errors.Join(emitErr, c.publishHands(ctx, roomID))
}

// moderate checks a teacher action against target and returns the room.
func (c *Coordinator) moderate(ctx context.Context, handle, roomID, target string) (string, error) {
	s, err := c.caller(handle)
	if err != nil {
		return "", err
	}
	if s.Role != models.RoleTeacher {
		return "", fmt.Errorf("%w: only teachers moderate", models.ErrForbidden)
	}
	roomID, err = inRoom(s, roomID)
	if err != nil {
		return "", err
	}
	if err := c.requireParticipant(ctx, roomID, target); err != nil {
		return "", err
	}
	return roomID, nil
}

// RoomStatus reports the live head count and raised hands of roomID.
func (c *Coordinator) RoomStatus(ctx context.Context, roomID string) (models.RoomStatus, error) {
	count, err := c.presence.Count(ctx, roomID)
	if err != nil {
		return models.RoomStatus{}, err
	}
	hands, err := c.presence.RaisedHands(ctx, roomID)
	if err != nil {
		return models.RoomStatus{}, err
	}
	return models.RoomStatus{RoomID: roomID, ParticipantCount: count, RaisedHands: hands}, nil
}

// caller returns the session for handle, which must be authenticated.
func (c *Coordinator) caller(handle string) (session.Session, error) {
	s, ok := c.sessions.Get(handle)
	if !ok || s.State == session.Disconnected {
		return session.Session{}, models.ErrUnknownHandle
	}
	if s.State == session.Connected {
		return session.Session{}, models.ErrNotAuthenticated
	}
	return s, nil
}

// inRoom resolves an empty roomID to the current room and checks membership.
func inRoom(s session.Session, roomID string) (string, error) {
	if roomID == "" {
		roomID = s.RoomID
	}
	if s.State != session.InRoom || s.RoomID != roomID {
		return "", fmt.Errorf("%w: %s", models.ErrNotInRoom, roomID)
	}
	return roomID, nil
}

func (c *Coordinator) requireParticipant(ctx context.Context, roomID, target string) error {
	ok, err := c.presence.IsParticipant(ctx, roomID, target)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrTargetNotInRoom, target)
	}
	return nil
}

func (c *Coordinator) publishHands(ctx context.Context, roomID string) error {
	hands, err := c.presence.RaisedHands(ctx, roomID)
	if err != nil {
		return err
	}
	return c.bus.BroadcastToRoom(ctx, roomID, models.Event{
		Type:    models.EventRaisedHands,
		Payload: models.RaisedHandsPayload{RaisedHands: hands},
	}, "")
}

func countEvent(n int64) models.Event {
	return models.Event{Type: models.EventParticipantCount, Payload: models.ParticipantCountPayload{Count: n}}
}

// emit and broadcast are for fan-out that follows an applied state change;
// delivery failures are logged rather than returned.
func (c *Coordinator) emit(ctx context.Context, handle string, event models.Event) {
	if err := c.bus.EmitTo(ctx, handle, event); err != nil {
		c.log.Warn().Err(err).Str("handle", handle).Str("event", string(event.Type)).Msg("direct event not delivered")
	}
}

func (c *Coordinator) broadcast(ctx context.Context, roomID string, event models.Event, exclude string) {
	if err := c.bus.BroadcastToRoom(ctx, roomID, event, exclude); err != nil {
		c.log.Warn().Err(err).Str("room", roomID).Str("event", string(event.Type)).Msg("room event not delivered")
	}
}
