package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repos bundles the repositories the gateway serves from one pool.
type Repos struct {
	Messages *MessageRepository
	Rooms    *RoomRepository
	Polls    *PollRepository
	Votes    *VoteRepository
}

func NewRepos(pool *pgxpool.Pool) *Repos {
	return &Repos{
		Messages: NewMessageRepository(pool),
		Rooms:    NewRoomRepository(pool),
		Polls:    NewPollRepository(pool),
		Votes:    NewVoteRepository(pool),
	}
}
