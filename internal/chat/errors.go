package chat

import (
	"errors"
	"fmt"
)

// The engine reports remote failures through typed errors so UI glue can map
// them to user-visible notices. All of them are recoverable: local state is
// restored to the last known-good value and the operation may be retried.

// LoadError: an initial snapshot fetch failed; the existing (possibly empty)
// local sequence is retained.
type LoadError struct{ Err error }

func (e *LoadError) Error() string { return fmt.Sprintf("load snapshot: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// SendError: a message insert failed; nothing was added locally and the draft
// may be resubmitted.
type SendError struct{ Err error }

func (e *SendError) Error() string { return fmt.Sprintf("send message: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// VoteError: an optimistic vote upsert was rejected; the local selection was
// rolled back to the last confirmed value.
type VoteError struct{ Err error }

func (e *VoteError) Error() string { return fmt.Sprintf("cast vote: %v", e.Err) }
func (e *VoteError) Unwrap() error { return e.Err }

// RevokeError: an optimistic vote removal was rejected; the previous selection
// was restored.
type RevokeError struct{ Err error }

func (e *RevokeError) Error() string { return fmt.Sprintf("revoke vote: %v", e.Err) }
func (e *RevokeError) Unwrap() error { return e.Err }

// ErrVoteInFlight rejects a second optimistic mutation on a (poll, user) key
// while the first is unresolved, so a stale rollback can never clobber a
// newer optimistic write.
var ErrVoteInFlight = errors.New("vote mutation already in flight for this poll")

// ErrPollClosed rejects votes on a closed poll.
var ErrPollClosed = errors.New("poll is closed")

// ErrNotWatching is returned for poll operations before WatchPoll.
var ErrNotWatching = errors.New("poll is not being watched")
