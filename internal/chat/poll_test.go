package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/store"
	"github.com/flamechat/internal/store/memory"
)

func newWatchedPoll(t *testing.T, st store.Store, options ...string) (*model.Poll, *PollVoteCoordinator) {
	t.Helper()
	ctx := context.Background()
	p := &model.Poll{Question: "lunch?", CreatedBy: "ann"}
	for i, text := range options {
		p.Options = append(p.Options, model.PollOption{ID: string(rune('a' + i)), Text: text})
	}
	require.NoError(t, st.InsertPoll(ctx, p))

	c := NewPollVoteCoordinator(st, "bob")
	t.Cleanup(c.Close)
	require.NoError(t, c.WatchPoll(ctx, p.ID))
	return p, c
}

func TestCastVoteConfirms(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()
	p, c := newWatchedPoll(t, st, "pizza", "sushi")

	require.NoError(t, c.CastVote(ctx, p.ID, "a"))
	sel, ok := c.Selection(p.ID)
	require.True(t, ok)
	assert.Equal(t, "a", sel)

	votes, err := st.ListVotes(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "bob", votes[0].Username)
}

func TestCastVoteSwitchesInPlace(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()
	p, c := newWatchedPoll(t, st, "pizza", "sushi")

	require.NoError(t, c.CastVote(ctx, p.ID, "a"))
	require.NoError(t, c.CastVote(ctx, p.ID, "b"))

	sel, ok := c.Selection(p.ID)
	require.True(t, ok)
	assert.Equal(t, "b", sel)

	votes, err := st.ListVotes(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "b", votes[0].OptionID)
}

func TestCastVoteRollsBackOnFailure(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()
	fs := &failingStore{Store: st}

	p := &model.Poll{Question: "q", Options: []model.PollOption{{ID: "a", Text: "x"}, {ID: "b", Text: "y"}}, CreatedBy: "ann"}
	require.NoError(t, st.InsertPoll(ctx, p))
	c := NewPollVoteCoordinator(fs, "bob")
	defer c.Close()
	require.NoError(t, c.WatchPoll(ctx, p.ID))

	require.NoError(t, c.CastVote(ctx, p.ID, "a"))

	fs.failUpsertVote = true
	err := c.CastVote(ctx, p.ID, "b")
	var voteErr *VoteError
	require.ErrorAs(t, err, &voteErr)

	// Selection fell back to the confirmed vote.
	sel, ok := c.Selection(p.ID)
	require.True(t, ok)
	assert.Equal(t, "a", sel)
}

// gatedStore blocks UpsertVote until released, so a mutation can be held
// unresolved while the test probes concurrent calls.
type gatedStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) UpsertVote(ctx context.Context, v *model.PollVote) (*model.PollVote, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.UpsertVote(ctx, v)
}

func TestMutationWhileUnresolvedRejected(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()
	gs := &gatedStore{Store: st, entered: make(chan struct{}), release: make(chan struct{})}

	p := &model.Poll{Question: "q", Options: []model.PollOption{{ID: "a", Text: "x"}, {ID: "b", Text: "y"}}, CreatedBy: "ann"}
	require.NoError(t, st.InsertPoll(ctx, p))
	c := NewPollVoteCoordinator(gs, "bob")
	defer c.Close()
	require.NoError(t, c.WatchPoll(ctx, p.ID))

	done := make(chan error, 1)
	go func() { done <- c.CastVote(ctx, p.ID, "a") }()
	<-gs.entered

	// While the first cast is unresolved, both mutation kinds are rejected
	// for this poll.
	assert.ErrorIs(t, c.CastVote(ctx, p.ID, "b"), ErrVoteInFlight)
	assert.ErrorIs(t, c.RevokeVote(ctx, p.ID), ErrVoteInFlight)

	close(gs.release)
	require.NoError(t, <-done)

	// The held mutation still confirms.
	sel, ok := c.Selection(p.ID)
	require.True(t, ok)
	assert.Equal(t, "a", sel)
	votes, err := st.ListVotes(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "a", votes[0].OptionID)
}

func TestRevokeVote(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()
	p, c := newWatchedPoll(t, st, "pizza", "sushi")

	require.NoError(t, c.CastVote(ctx, p.ID, "a"))
	require.NoError(t, c.RevokeVote(ctx, p.ID))

	_, ok := c.Selection(p.ID)
	assert.False(t, ok)

	votes, err := st.ListVotes(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, votes)
}

func TestRevokeVoteRestoresOnFailure(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()
	fs := &failingStore{Store: st}

	p := &model.Poll{Question: "q", Options: []model.PollOption{{ID: "a", Text: "x"}}, CreatedBy: "ann"}
	require.NoError(t, st.InsertPoll(ctx, p))
	c := NewPollVoteCoordinator(fs, "bob")
	defer c.Close()
	require.NoError(t, c.WatchPoll(ctx, p.ID))
	require.NoError(t, c.CastVote(ctx, p.ID, "a"))

	fs.failDeleteVote = true
	err := c.RevokeVote(ctx, p.ID)
	var revokeErr *RevokeError
	require.ErrorAs(t, err, &revokeErr)

	sel, ok := c.Selection(p.ID)
	require.True(t, ok)
	assert.Equal(t, "a", sel)
}

func TestVoteOnClosedPoll(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()

	p := &model.Poll{Question: "q", Options: []model.PollOption{{ID: "a", Text: "x"}}, CreatedBy: "ann", Closed: true}
	require.NoError(t, st.InsertPoll(ctx, p))
	c := NewPollVoteCoordinator(st, "bob")
	defer c.Close()
	require.NoError(t, c.WatchPoll(ctx, p.ID))

	assert.ErrorIs(t, c.CastVote(ctx, p.ID, "a"), ErrPollClosed)
}

func TestVoteWithoutWatching(t *testing.T) {
	st := memory.New()
	defer st.Close()
	c := NewPollVoteCoordinator(st, "bob")
	defer c.Close()
	assert.ErrorIs(t, c.CastVote(context.Background(), "nope", "a"), ErrNotWatching)
	_, err := c.Tally("nope")
	assert.ErrorIs(t, err, ErrNotWatching)
}

func TestTallyFollowsOtherVoters(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()
	p, c := newWatchedPoll(t, st, "pizza", "sushi", "salad")

	require.NoError(t, c.CastVote(ctx, p.ID, "a"))
	// Two other users vote directly against the store; the feed refetch has
	// to pick them up.
	_, err := st.UpsertVote(ctx, &model.PollVote{PollID: p.ID, Username: "ann", OptionID: "a"})
	require.NoError(t, err)
	_, err = st.UpsertVote(ctx, &model.PollVote{PollID: p.ID, Username: "eve", OptionID: "b"})
	require.NoError(t, err)

	waitFor(t, func() bool {
		tally, err := c.Tally(p.ID)
		return err == nil && tally.Total == 3
	}, "vote events not refetched")

	tally, err := c.Tally(p.ID)
	require.NoError(t, err)
	require.Len(t, tally.Options, 3)
	assert.Equal(t, 2, tally.Options[0].Count)
	assert.Equal(t, 67, tally.Options[0].Percent)
	assert.ElementsMatch(t, []string{"bob", "ann"}, tally.Options[0].Voters)
	assert.Equal(t, 1, tally.Options[1].Count)
	assert.Equal(t, 33, tally.Options[1].Percent)
	assert.Equal(t, 0, tally.Options[2].Count)
	assert.Equal(t, 0, tally.Options[2].Percent)
}

func TestTallyZeroTotal(t *testing.T) {
	st := memory.New()
	defer st.Close()
	p, c := newWatchedPoll(t, st, "pizza", "sushi")

	tally, err := c.Tally(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, tally.Total)
	for _, opt := range tally.Options {
		assert.Equal(t, 0, opt.Percent)
	}
}

func TestCreatePoll(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()

	c := NewPollVoteCoordinator(st, "ann")
	defer c.Close()

	p, err := c.CreatePoll(ctx, store.RoomScope("r1"), "lunch?", []string{"pizza", "sushi"})
	require.NoError(t, err)
	require.Len(t, p.Options, 2)
	assert.NotEmpty(t, p.Options[0].ID)
	assert.NotEqual(t, p.Options[0].ID, p.Options[1].ID)

	// The announcement message carries the poll id in its scope.
	msgs, err := st.ListMessages(ctx, store.RoomScope("r1"), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageTypePoll, msgs[0].Type)
	assert.Equal(t, p.ID, msgs[0].PollID)

	// CreatePoll leaves the poll watched.
	_, err = c.Tally(p.ID)
	require.NoError(t, err)
}

func TestUnwatchStopsRefetch(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()
	p, c := newWatchedPoll(t, st, "pizza")

	c.UnwatchPoll(p.ID)
	_, err := st.UpsertVote(ctx, &model.PollVote{PollID: p.ID, Username: "eve", OptionID: "a"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = c.Tally(p.ID)
	assert.ErrorIs(t, err, ErrNotWatching)
}
