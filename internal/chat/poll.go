package chat

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
	"github.com/flamechat/internal/store"
)

// refetchTimeout bounds the vote refetch triggered by a change-feed event.
const refetchTimeout = 5 * time.Second

// PollVoteCoordinator maintains per-poll vote state for one user: the full
// vote list, the user's confirmed selection, and an optimistic overlay for
// mutations awaiting remote confirmation. At most one vote row exists per
// (poll_id, username); casting again switches that row in place.
type PollVoteCoordinator struct {
	st       store.Store
	username string

	mu    sync.Mutex
	polls map[string]*pollState
	gen   int

	onChange func(pollID string)
}

type pollState struct {
	poll  *model.Poll
	votes []model.PollVote
	sub   realtime.Subscription

	// Optimistic overlay: when set it shadows the confirmed selection until
	// the in-flight mutation resolves. An empty overlay value means an
	// optimistic revoke.
	optimistic    string
	hasOptimistic bool
	inFlight      bool
}

func NewPollVoteCoordinator(st store.Store, username string) *PollVoteCoordinator {
	return &PollVoteCoordinator{
		st:       st,
		username: username,
		polls:    make(map[string]*pollState),
	}
}

// SetOnChange registers a per-poll update callback. Must be called before the
// first WatchPoll.
func (c *PollVoteCoordinator) SetOnChange(fn func(pollID string)) { c.onChange = fn }

// WatchPoll loads the poll and its votes and subscribes to the poll's vote
// feed. Every feed event triggers a full refetch of the vote list: with the
// low row cardinality of a chat poll that is simpler and safer than
// incremental patching, and it makes duplicate event delivery harmless.
func (c *PollVoteCoordinator) WatchPoll(ctx context.Context, pollID string) error {
	c.mu.Lock()
	if _, ok := c.polls[pollID]; ok {
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	c.mu.Unlock()

	poll, err := c.st.GetPoll(ctx, pollID)
	if err != nil {
		return &LoadError{Err: err}
	}
	votes, err := c.st.ListVotes(ctx, pollID)
	if err != nil {
		return &LoadError{Err: err}
	}

	sub, err := c.st.SubscribeVotes(pollID, func(realtime.Event[model.PollVote]) {
		c.refetchVotes(gen, pollID)
	})
	if err != nil {
		return &LoadError{Err: err}
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	c.polls[pollID] = &pollState{poll: poll, votes: votes, sub: sub}
	c.mu.Unlock()

	c.notify(pollID)
	return nil
}

// UnwatchPoll drops local state and the feed subscription for one poll.
func (c *PollVoteCoordinator) UnwatchPoll(pollID string) {
	c.mu.Lock()
	ps, ok := c.polls[pollID]
	if ok {
		delete(c.polls, pollID)
	}
	c.mu.Unlock()
	if ok && ps.sub != nil {
		ps.sub.Unsubscribe()
	}
}

// Close unsubscribes every watched poll. Late refetches are dropped by the
// generation check.
func (c *PollVoteCoordinator) Close() {
	c.mu.Lock()
	c.gen++
	polls := c.polls
	c.polls = make(map[string]*pollState)
	c.mu.Unlock()
	for _, ps := range polls {
		if ps.sub != nil {
			ps.sub.Unsubscribe()
		}
	}
}

func (c *PollVoteCoordinator) refetchVotes(gen int, pollID string) {
	ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
	defer cancel()
	votes, err := c.st.ListVotes(ctx, pollID)
	if err != nil {
		logger.Errorf("poll %s refetch votes: %v", pollID, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	ps, ok := c.polls[pollID]
	if !ok {
		c.mu.Unlock()
		return
	}
	ps.votes = votes
	c.mu.Unlock()

	c.notify(pollID)
}

// confirmedLocked returns the user's confirmed option id, "" when none.
func (ps *pollState) confirmedLocked(username string) string {
	for _, v := range ps.votes {
		if v.Username == username {
			return v.OptionID
		}
	}
	return ""
}

// Selection returns the option currently selected by this user for display:
// the optimistic overlay while a mutation is unresolved, the confirmed vote
// otherwise. ok is false when nothing is selected.
func (c *PollVoteCoordinator) Selection(pollID string) (optionID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, watching := c.polls[pollID]
	if !watching {
		return "", false
	}
	if ps.hasOptimistic {
		return ps.optimistic, ps.optimistic != ""
	}
	sel := ps.confirmedLocked(c.username)
	return sel, sel != ""
}

// CastVote optimistically selects optionID, then issues the conflict-aware
// upsert keyed by (poll_id, username). On failure the selection rolls back to
// the prior confirmed state. A second mutation on the same poll while one is
// unresolved is rejected with ErrVoteInFlight.
func (c *PollVoteCoordinator) CastVote(ctx context.Context, pollID, optionID string) error {
	defer logger.DeferLogDuration("poll.CastVote", time.Now())()
	c.mu.Lock()
	ps, ok := c.polls[pollID]
	if !ok {
		c.mu.Unlock()
		return ErrNotWatching
	}
	if ps.poll.Closed {
		c.mu.Unlock()
		return ErrPollClosed
	}
	if ps.inFlight {
		c.mu.Unlock()
		return ErrVoteInFlight
	}
	ps.inFlight = true
	ps.optimistic = optionID
	ps.hasOptimistic = true
	c.mu.Unlock()
	c.notify(pollID)

	row, err := c.st.UpsertVote(ctx, &model.PollVote{
		PollID:   pollID,
		Username: c.username,
		OptionID: optionID,
	})

	c.mu.Lock()
	ps.inFlight = false
	ps.hasOptimistic = false
	if err == nil {
		// Reconcile with the authoritative row; the feed-triggered refetch
		// will confirm shortly after.
		ps.mergeVoteLocked(*row)
	}
	c.mu.Unlock()
	c.notify(pollID)

	if err != nil {
		return &VoteError{Err: err}
	}
	return nil
}

// RevokeVote optimistically clears the selection, then deletes the vote row
// keyed by (poll_id, username). On failure the previous selection is
// restored.
func (c *PollVoteCoordinator) RevokeVote(ctx context.Context, pollID string) error {
	defer logger.DeferLogDuration("poll.RevokeVote", time.Now())()
	c.mu.Lock()
	ps, ok := c.polls[pollID]
	if !ok {
		c.mu.Unlock()
		return ErrNotWatching
	}
	if ps.inFlight {
		c.mu.Unlock()
		return ErrVoteInFlight
	}
	ps.inFlight = true
	ps.optimistic = ""
	ps.hasOptimistic = true
	c.mu.Unlock()
	c.notify(pollID)

	err := c.st.DeleteVote(ctx, pollID, c.username)

	c.mu.Lock()
	ps.inFlight = false
	ps.hasOptimistic = false
	if err == nil {
		ps.removeVoteLocked(c.username)
	}
	c.mu.Unlock()
	c.notify(pollID)

	if err != nil {
		return &RevokeError{Err: err}
	}
	return nil
}

// mergeVoteLocked replaces or appends the row for its (poll, username) key.
func (ps *pollState) mergeVoteLocked(row model.PollVote) {
	for i := range ps.votes {
		if ps.votes[i].Username == row.Username {
			ps.votes[i] = row
			return
		}
	}
	ps.votes = append(ps.votes, row)
}

func (ps *pollState) removeVoteLocked(username string) {
	for i := range ps.votes {
		if ps.votes[i].Username == username {
			ps.votes = append(ps.votes[:i], ps.votes[i+1:]...)
			return
		}
	}
}

// OptionTally is the aggregate for one option.
type OptionTally struct {
	OptionID string
	Text     string
	Count    int
	Percent  int // round(100*count/total); 0 when total is 0
	Voters   []string
}

// Tally is the aggregate vote state of one poll.
type Tally struct {
	PollID  string
	Total   int
	Options []OptionTally
}

// Tally computes per-option counts and display percentages over the full
// local vote list. A zero total yields zero percent everywhere.
func (c *PollVoteCoordinator) Tally(pollID string) (Tally, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.polls[pollID]
	if !ok {
		return Tally{}, ErrNotWatching
	}

	total := len(ps.votes)
	out := Tally{PollID: pollID, Total: total, Options: make([]OptionTally, 0, len(ps.poll.Options))}
	for _, opt := range ps.poll.Options {
		ot := OptionTally{OptionID: opt.ID, Text: opt.Text}
		for _, v := range ps.votes {
			if v.OptionID == opt.ID {
				ot.Count++
				ot.Voters = append(ot.Voters, v.Username)
			}
		}
		if total > 0 {
			ot.Percent = int(math.Round(float64(ot.Count) / float64(total) * 100))
		}
		out.Options = append(out.Options, ot)
	}
	return out, nil
}

// Poll returns the watched poll row.
func (c *PollVoteCoordinator) Poll(pollID string) (*model.Poll, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.polls[pollID]
	if !ok {
		return nil, ErrNotWatching
	}
	p := *ps.poll
	return &p, nil
}

// CreatePoll inserts a poll row and the poll-type message announcing it in
// scope, and starts watching the new poll.
func (c *PollVoteCoordinator) CreatePoll(ctx context.Context, scope store.Scope, question string, options []string) (*model.Poll, error) {
	p := &model.Poll{
		Question:  question,
		Options:   make([]model.PollOption, 0, len(options)),
		CreatedBy: c.username,
	}
	for _, text := range options {
		p.Options = append(p.Options, model.PollOption{ID: uuid.New().String(), Text: text})
	}
	if err := c.st.InsertPoll(ctx, p); err != nil {
		return nil, &SendError{Err: err}
	}

	msg := &model.Message{
		RoomID:   scope.RoomID,
		Username: c.username,
		Content:  question,
		Type:     model.MessageTypePoll,
		PollID:   p.ID,
	}
	if err := c.st.InsertMessage(ctx, msg); err != nil {
		return nil, &SendError{Err: err}
	}

	if err := c.WatchPoll(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *PollVoteCoordinator) notify(pollID string) {
	if c.onChange != nil {
		c.onChange(pollID)
	}
}
