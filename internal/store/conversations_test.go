// ABOUTME: Tests for conversation persistence
// ABOUTME: Covers pin ordering, compaction, moves between spaces and touch semantics

package store

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pinnedInSpace returns the pinned conversation ids of a space ordered by
// pinned_order.
func pinnedInSpace(t *testing.T, store *SQLiteStore, spaceID string) []string {
	t.Helper()
	convs, err := store.ListConversations(context.Background())
	require.NoError(t, err)

	var pinned []*Conversation
	for _, c := range convs {
		if c.SpaceID == spaceID && c.Pinned {
			pinned = append(pinned, c)
		}
	}
	sort.Slice(pinned, func(i, j int) bool { return *pinned[i].PinnedOrder < *pinned[j].PinnedOrder })

	ids := make([]string, len(pinned))
	for i, c := range pinned {
		ids[i] = c.ID
	}
	return ids
}

// assertPinInvariants checks pinned=false <=> pinned_order NULL and that each
// space's pinned orders are exactly 1..k.
func assertPinInvariants(t *testing.T, store *SQLiteStore) {
	t.Helper()
	convs, err := store.ListConversations(context.Background())
	require.NoError(t, err)

	bySpace := map[string][]int{}
	for _, c := range convs {
		if !c.Pinned {
			assert.Nil(t, c.PinnedOrder, "unpinned conversation %s has a pinned order", c.ID)
			continue
		}
		require.NotNil(t, c.PinnedOrder, "pinned conversation %s has no pinned order", c.ID)
		bySpace[c.SpaceID] = append(bySpace[c.SpaceID], *c.PinnedOrder)
	}
	for spaceID, orders := range bySpace {
		sort.Ints(orders)
		for i, o := range orders {
			assert.Equal(t, i+1, o, "space %s pinned orders %v are not dense", spaceID, orders)
		}
	}
}

func createConversations(t *testing.T, store *SQLiteStore, spaceID string, n int) []*Conversation {
	t.Helper()
	convs := make([]*Conversation, n)
	for i := range convs {
		c, err := store.CreateConversation(context.Background(), ConversationInput{SpaceID: spaceID})
		require.NoError(t, err)
		convs[i] = c
	}
	return convs
}

func TestCreateConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, ConversationInput{Title: "Trip planning"})
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	require.NotNil(t, conv.Title)
	assert.Equal(t, "Trip planning", *conv.Title)
	assert.Equal(t, DefaultSpaceID, conv.SpaceID)
	assert.Equal(t, DefaultModel, conv.Model)
	assert.Equal(t, DefaultProviderID, conv.ProviderID)
	assert.False(t, conv.Pinned)
	assert.Nil(t, conv.PinnedOrder)

	untitled, err := store.CreateConversation(ctx, ConversationInput{})
	require.NoError(t, err)
	assert.Nil(t, untitled.Title)

	work, err := store.CreateSpace(ctx, SpaceInput{Name: "Work"})
	require.NoError(t, err)
	inWork, err := store.CreateConversation(ctx, ConversationInput{SpaceID: work.ID})
	require.NoError(t, err)
	assert.Equal(t, work.ID, inWork.SpaceID)

	got, err := store.GetConversation(ctx, inWork.ID)
	require.NoError(t, err)
	assert.Equal(t, inWork, got)
}

func TestCreateConversation_UnknownSpace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.CreateConversation(ctx, ConversationInput{SpaceID: "nope"})
	assert.ErrorIs(t, err, ErrSpaceNotFound)

	convs, err := store.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestGetConversation_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetConversation(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversations_Order(t *testing.T) {
	clock := newFakeClock()
	store := setupTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	first, err := store.CreateConversation(ctx, ConversationInput{Title: "first"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := store.CreateConversation(ctx, ConversationInput{Title: "second"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	third, err := store.CreateConversation(ctx, ConversationInput{Title: "third"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, store.TouchConversation(ctx, first.ID, ""))

	convs, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, first.ID, convs[0].ID)
	assert.Equal(t, third.ID, convs[1].ID)
	assert.Equal(t, second.ID, convs[2].ID)
}

func TestListConversations_TieBreaksOnCreatedAt(t *testing.T) {
	clock := newFakeClock()
	store := setupTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	older, err := store.CreateConversation(ctx, ConversationInput{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	newer, err := store.CreateConversation(ctx, ConversationInput{})
	require.NoError(t, err)

	// Same updated_at for both
	clock.Advance(time.Second)
	require.NoError(t, store.TouchConversation(ctx, older.ID, ""))
	require.NoError(t, store.TouchConversation(ctx, newer.ID, ""))

	convs, err := store.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, convs[0].ID)
	assert.Equal(t, older.ID, convs[1].ID)
}

func TestPinConversation_AppendsAtEnd(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	convs := createConversations(t, store, "", 3)

	for i, c := range convs {
		pinned, err := store.PinConversation(ctx, c.ID, true)
		require.NoError(t, err)
		assert.True(t, pinned.Pinned)
		require.NotNil(t, pinned.PinnedOrder)
		assert.Equal(t, i+1, *pinned.PinnedOrder)
	}
	assert.Equal(t, []string{convs[0].ID, convs[1].ID, convs[2].ID}, pinnedInSpace(t, store, DefaultSpaceID))
	assertPinInvariants(t, store)
}

func TestPinConversation_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	convs := createConversations(t, store, "", 2)

	first, err := store.PinConversation(ctx, convs[0].ID, true)
	require.NoError(t, err)
	_, err = store.PinConversation(ctx, convs[1].ID, true)
	require.NoError(t, err)

	again, err := store.PinConversation(ctx, convs[0].ID, true)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	unpinned, err := store.PinConversation(ctx, convs[0].ID, false)
	require.NoError(t, err)
	unpinnedAgain, err := store.PinConversation(ctx, convs[0].ID, false)
	require.NoError(t, err)
	assert.Equal(t, unpinned, unpinnedAgain)
	assert.Nil(t, unpinnedAgain.PinnedOrder)

	assertPinInvariants(t, store)
}

func TestPinConversation_DoesNotTouchUpdatedAt(t *testing.T) {
	clock := newFakeClock()
	store := setupTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, ConversationInput{})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	pinned, err := store.PinConversation(ctx, conv.ID, true)
	require.NoError(t, err)
	assert.True(t, pinned.UpdatedAt.Equal(conv.UpdatedAt))
}

func TestUnpinConversation_Compacts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	convs := createConversations(t, store, "", 4)
	for _, c := range convs {
		_, err := store.PinConversation(ctx, c.ID, true)
		require.NoError(t, err)
	}

	_, err := store.PinConversation(ctx, convs[1].ID, false)
	require.NoError(t, err)

	// Relative order of survivors is preserved
	assert.Equal(t, []string{convs[0].ID, convs[2].ID, convs[3].ID}, pinnedInSpace(t, store, DefaultSpaceID))
	assertPinInvariants(t, store)

	// Re-pinning goes to the end, not back into its old slot
	repinned, err := store.PinConversation(ctx, convs[1].ID, true)
	require.NoError(t, err)
	assert.Equal(t, 4, *repinned.PinnedOrder)
	assertPinInvariants(t, store)
}

func TestPinConversation_Errors(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.PinConversation(context.Background(), "missing", true)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = store.PinConversation(context.Background(), "", true)
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestPinOrder_IsPerSpace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	work, err := store.CreateSpace(ctx, SpaceInput{Name: "Work"})
	require.NoError(t, err)

	general := createConversations(t, store, "", 2)
	inWork := createConversations(t, store, work.ID, 2)

	for _, c := range append(general, inWork...) {
		_, err := store.PinConversation(ctx, c.ID, true)
		require.NoError(t, err)
	}

	got, err := store.GetConversation(ctx, inWork[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, *got.PinnedOrder)
	assertPinInvariants(t, store)
}

func TestReorderPinnedConversations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	convs := createConversations(t, store, "", 3)
	for _, c := range convs {
		_, err := store.PinConversation(ctx, c.ID, true)
		require.NoError(t, err)
	}

	order := []string{convs[2].ID, convs[0].ID, convs[1].ID}
	require.NoError(t, store.ReorderPinnedConversations(ctx, DefaultSpaceID, order))
	assert.Equal(t, order, pinnedInSpace(t, store, DefaultSpaceID))
	assertPinInvariants(t, store)
}

func TestReorderPinnedConversations_Rejections(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	convs := createConversations(t, store, "", 3)
	for _, c := range convs[:2] {
		_, err := store.PinConversation(ctx, c.ID, true)
		require.NoError(t, err)
	}

	tests := []struct {
		name    string
		spaceID string
		ids     []string
		wantErr error
	}{
		{"unknown space", "ghost-space", []string{convs[0].ID, convs[1].ID}, ErrSpaceNotFound},
		{"count mismatch", DefaultSpaceID, []string{convs[0].ID}, ErrCountMismatch},
		{"unpinned id", DefaultSpaceID, []string{convs[0].ID, convs[2].ID}, ErrUnknownID},
		{"duplicate id", DefaultSpaceID, []string{convs[0].ID, convs[0].ID}, ErrDuplicateID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ReorderPinnedConversations(ctx, tt.spaceID, tt.ids)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, []string{convs[0].ID, convs[1].ID}, pinnedInSpace(t, store, DefaultSpaceID))
}

func TestReorderPinnedConversations_EmptySpace(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.ReorderPinnedConversations(context.Background(), DefaultSpaceID, nil))
}

func TestMoveConversationToSpace_Unpinned(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	work, err := store.CreateSpace(ctx, SpaceInput{Name: "Work"})
	require.NoError(t, err)
	conv, err := store.CreateConversation(ctx, ConversationInput{})
	require.NoError(t, err)

	moved, err := store.MoveConversationToSpace(ctx, conv.ID, work.ID)
	require.NoError(t, err)
	assert.Equal(t, work.ID, moved.SpaceID)
	assert.False(t, moved.Pinned)
	assert.Nil(t, moved.PinnedOrder)
	assert.True(t, moved.UpdatedAt.Equal(conv.UpdatedAt))
}

func TestMoveConversationToSpace_PinnedStaysPinned(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	work, err := store.CreateSpace(ctx, SpaceInput{Name: "Work"})
	require.NoError(t, err)

	general := createConversations(t, store, "", 3)
	inWork := createConversations(t, store, work.ID, 2)
	for _, c := range append(general, inWork...) {
		_, err := store.PinConversation(ctx, c.ID, true)
		require.NoError(t, err)
	}

	moved, err := store.MoveConversationToSpace(ctx, general[0].ID, work.ID)
	require.NoError(t, err)
	assert.Equal(t, work.ID, moved.SpaceID)
	assert.True(t, moved.Pinned)
	require.NotNil(t, moved.PinnedOrder)
	assert.Equal(t, 3, *moved.PinnedOrder)

	assert.Equal(t, []string{general[1].ID, general[2].ID}, pinnedInSpace(t, store, DefaultSpaceID))
	assert.Equal(t, []string{inWork[0].ID, inWork[1].ID, general[0].ID}, pinnedInSpace(t, store, work.ID))
	assertPinInvariants(t, store)
}

func TestMoveConversationToSpace_SameSpaceIsNoop(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	convs := createConversations(t, store, "", 2)
	for _, c := range convs {
		_, err := store.PinConversation(ctx, c.ID, true)
		require.NoError(t, err)
	}

	before, err := store.GetConversation(ctx, convs[0].ID)
	require.NoError(t, err)
	after, err := store.MoveConversationToSpace(ctx, convs[0].ID, DefaultSpaceID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{convs[0].ID, convs[1].ID}, pinnedInSpace(t, store, DefaultSpaceID))
}

func TestMoveConversationToSpace_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	conv, err := store.CreateConversation(ctx, ConversationInput{})
	require.NoError(t, err)
	_, err = store.PinConversation(ctx, conv.ID, true)
	require.NoError(t, err)

	_, err = store.MoveConversationToSpace(ctx, conv.ID, "ghost")
	assert.ErrorIs(t, err, ErrSpaceNotFound)

	_, err = store.MoveConversationToSpace(ctx, "ghost", DefaultSpaceID)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	// Failed move left the pin in place
	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
	assert.Equal(t, 1, *got.PinnedOrder)
}

func TestTouchConversation(t *testing.T) {
	clock := newFakeClock()
	store := setupTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, ConversationInput{})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, store.TouchConversation(ctx, conv.ID, ""))
	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(conv.UpdatedAt))
	assert.Equal(t, DefaultModel, got.Model)

	clock.Advance(time.Minute)
	require.NoError(t, store.TouchConversation(ctx, conv.ID, "gpt-4o"))
	got, err = store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, DefaultProviderID, got.ProviderID)

	assert.ErrorIs(t, store.TouchConversation(ctx, "ghost", ""), ErrConversationNotFound)
}

func TestPinOperations_RandomSequenceKeepsInvariants(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	work, err := store.CreateSpace(ctx, SpaceInput{Name: "Work"})
	require.NoError(t, err)
	spaces := []string{DefaultSpaceID, work.ID}

	convs := append(createConversations(t, store, "", 4), createConversations(t, store, work.ID, 4)...)

	for step := 0; step < 60; step++ {
		c := convs[rng.Intn(len(convs))]
		switch rng.Intn(4) {
		case 0:
			_, err = store.PinConversation(ctx, c.ID, true)
		case 1:
			_, err = store.PinConversation(ctx, c.ID, false)
		case 2:
			_, err = store.MoveConversationToSpace(ctx, c.ID, spaces[rng.Intn(len(spaces))])
		case 3:
			spaceID := spaces[rng.Intn(len(spaces))]
			ids := pinnedInSpace(t, store, spaceID)
			rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
			err = store.ReorderPinnedConversations(ctx, spaceID, ids)
		}
		require.NoError(t, err, "step %d", step)
		assertPinInvariants(t, store)
	}
}
