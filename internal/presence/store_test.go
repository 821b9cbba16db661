package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, time.Second), mr
}

func TestStore_AddRemoveCount(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if n, err := store.Count(ctx, "501"); err != nil || n != 0 {
		t.Fatalf("expected empty room, got %d (%v)", n, err)
	}

	for _, h := range []string{"t1", "s1", "s2"} {
		if err := store.AddParticipant(ctx, "501", h, "name-"+h); err != nil {
			t.Fatalf("add %s: %v", h, err)
		}
	}
	// Adding twice must not duplicate the member.
	if err := store.AddParticipant(ctx, "501", "s1", "name-s1"); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	if n, _ := store.Count(ctx, "501"); n != 3 {
		t.Errorf("expected 3 participants, got %d", n)
	}

	removed, err := store.RemoveParticipant(ctx, "501", "s2")
	if err != nil || !removed {
		t.Fatalf("expected s2 removed, got %v (%v)", removed, err)
	}
	removed, err = store.RemoveParticipant(ctx, "501", "s2")
	if err != nil || removed {
		t.Errorf("second removal should be a silent no-op, got %v (%v)", removed, err)
	}
	if n, _ := store.Count(ctx, "501"); n != 2 {
		t.Errorf("expected 2 participants, got %d", n)
	}

	ok, err := store.IsParticipant(ctx, "501", "s1")
	if err != nil || !ok {
		t.Errorf("expected s1 to be a participant")
	}
	ok, _ = store.IsParticipant(ctx, "502", "s1")
	if ok {
		t.Error("s1 must not appear in another room")
	}
}

func TestStore_RaisedHandsSubsetOfParticipants(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.AddParticipant(ctx, "501", "s1", "Bea")
	store.AddParticipant(ctx, "501", "s2", "Al")

	store.SetHand(ctx, "501", "s1", true)
	store.SetHand(ctx, "501", "s2", true)

	hands, err := store.RaisedHands(ctx, "501")
	if err != nil {
		t.Fatalf("raised hands: %v", err)
	}
	if len(hands) != 2 || hands[0].UserName != "Al" || hands[1].UserID != "s1" {
		t.Errorf("unexpected hands %+v", hands)
	}

	store.SetHand(ctx, "501", "s2", false)
	hands, _ = store.RaisedHands(ctx, "501")
	if len(hands) != 1 || hands[0].UserID != "s1" {
		t.Errorf("expected only s1 raised, got %+v", hands)
	}

	// Leaving clears the hand with the membership.
	store.RemoveParticipant(ctx, "501", "s1")
	if mr.Exists(raisedHandsKey("501")) {
		members, _ := mr.Members(raisedHandsKey("501"))
		if len(members) != 0 {
			t.Errorf("raised hands leaked after leave: %v", members)
		}
	}

	// A stray raised entry without membership is filtered out on read.
	mr.SAdd(raisedHandsKey("501"), "ghost")
	hands, _ = store.RaisedHands(ctx, "501")
	if len(hands) != 0 {
		t.Errorf("expected stale entries hidden, got %+v", hands)
	}
}

func TestStore_MissingNameFallsBack(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	mr.SAdd(participantsKey("7"), "s1")
	mr.SAdd(raisedHandsKey("7"), "s1")

	hands, err := store.RaisedHands(ctx, "7")
	if err != nil {
		t.Fatalf("raised hands: %v", err)
	}
	if len(hands) != 1 || hands[0].UserName != models.AnonymousName {
		t.Errorf("expected anonymous fallback, got %+v", hands)
	}
}

func TestStore_Unavailable(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	mr.SetError("ERR injected failure")

	if err := store.AddParticipant(ctx, "501", "s1", "x"); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.Count(ctx, "501"); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}
