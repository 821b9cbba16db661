// Package presence keeps per-room membership and raised hands in Redis so
// every service instance sees the same room state.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
	"github.com/redis/go-redis/v9"
)

// Store is the shared room state. All mutations are single-key set or hash
// operations so concurrent instances never need a lock.
type Store struct {
	client  *redis.Client
	timeout time.Duration
}

// NewStore wraps client. Every call is bounded by timeout.
func NewStore(client *redis.Client, timeout time.Duration) *Store {
	return &Store{client: client, timeout: timeout}
}

// The {room} hash tag keeps a room's keys in one cluster slot so SINTER works.
func participantsKey(roomID string) string { return "class:{" + roomID + "}:participants" }
func raisedHandsKey(roomID string) string  { return "class:{" + roomID + "}:raised_hands" }
func namesKey(roomID string) string        { return "class:{" + roomID + "}:names" }

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out", models.ErrStoreUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %v", models.ErrStoreUnavailable, op, err)
}

// AddParticipant records handle as a member of roomID under displayName.
func (s *Store) AddParticipant(ctx context.Context, roomID, handle, displayName string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, namesKey(roomID), handle, displayName)
		pipe.SAdd(ctx, participantsKey(roomID), handle)
		return nil
	})
	if err != nil {
		return unavailable("add participant", err)
	}
	return nil
}

// RemoveParticipant drops handle from the participant set, the raised-hand
// set and the name map. It is safe to call for a handle that was never added
// and reports whether the handle was a participant.
func (s *Store) RemoveParticipant(ctx context.Context, roomID, handle string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var removed *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, participantsKey(roomID), handle)
		pipe.SRem(ctx, raisedHandsKey(roomID), handle)
		pipe.HDel(ctx, namesKey(roomID), handle)
		return nil
	})
	if err != nil {
		return false, unavailable("remove participant", err)
	}
	return removed.Val() > 0, nil
}

// IsParticipant reports whether handle is currently in roomID.
func (s *Store) IsParticipant(ctx context.Context, roomID, handle string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	ok, err := s.client.SIsMember(ctx, participantsKey(roomID), handle).Result()
	if err != nil {
		return false, unavailable("check participant", err)
	}
	return ok, nil
}

// Count returns the number of participants. A missing key is an empty room.
func (s *Store) Count(ctx context.Context, roomID string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.client.SCard(ctx, participantsKey(roomID)).Result()
	if err != nil {
		return 0, unavailable("count participants", err)
	}
	return n, nil
}

// SetHand raises or lowers handle's hand.
func (s *Store) SetHand(ctx context.Context, roomID, handle string, raised bool) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var err error
	if raised {
		err = s.client.SAdd(ctx, raisedHandsKey(roomID), handle).Err()
	} else {
		err = s.client.SRem(ctx, raisedHandsKey(roomID), handle).Err()
	}
	if err != nil {
		return unavailable("set hand", err)
	}
	return nil
}

// RaisedHands lists raised hands of current participants, ordered by name
// then handle. Entries whose participant is gone are never returned.
func (s *Store) RaisedHands(ctx context.Context, roomID string) ([]models.RaisedHand, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	handles, err := s.client.SInter(ctx, raisedHandsKey(roomID), participantsKey(roomID)).Result()
	if err != nil {
		return nil, unavailable("list raised hands", err)
	}
	hands := make([]models.RaisedHand, 0, len(handles))
	if len(handles) == 0 {
		return hands, nil
	}

	names, err := s.client.HMGet(ctx, namesKey(roomID), handles...).Result()
	if err != nil {
		return nil, unavailable("resolve names", err)
	}
	for i, h := range handles {
		name := models.AnonymousName
		if v, ok := names[i].(string); ok && v != "" {
			name = v
		}
		hands = append(hands, models.RaisedHand{UserID: h, UserName: name})
	}

	sort.Slice(hands, func(i, j int) bool {
		if hands[i].UserName != hands[j].UserName {
			return hands[i].UserName < hands[j].UserName
		}
		return hands[i].UserID < hands[j].UserID
	})
	return hands, nil
}

// Ping checks the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
