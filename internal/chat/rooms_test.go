package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/roomcode"
	"github.com/flamechat/internal/store/memory"
)

func TestRoomDirectoryOpenAndFeed(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.InsertRoom(ctx, &model.Room{Name: "existing", Code: "AAAAAA", CreatedBy: "ann"}))

	d := NewRoomDirectory(st)
	defer d.Close()
	require.NoError(t, d.Open(ctx))
	require.Len(t, d.Rooms(), 1)

	require.NoError(t, st.InsertRoom(ctx, &model.Room{Name: "new", Code: "BBBBBB", CreatedBy: "bob"}))
	waitFor(t, func() bool { return len(d.Rooms()) == 2 }, "room insert not delivered")
	assert.Equal(t, "new", d.Rooms()[1].Name)
}

func TestCreateRoomAssignsCode(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()

	d := NewRoomDirectory(st)
	defer d.Close()
	require.NoError(t, d.Open(ctx))

	r, err := d.CreateRoom(ctx, "  friends  ", "ann")
	require.NoError(t, err)
	assert.Equal(t, "friends", r.Name)
	assert.True(t, roomcode.Valid(r.Code))
	assert.NotEmpty(t, r.ID)

	_, err = d.CreateRoom(ctx, "   ", "ann")
	var sendErr *SendError
	assert.ErrorAs(t, err, &sendErr)
}

func TestJoinByCode(t *testing.T) {
	st := memory.New()
	defer st.Close()
	ctx := context.Background()

	d := NewRoomDirectory(st)
	defer d.Close()
	require.NoError(t, d.Open(ctx))

	r, err := d.CreateRoom(ctx, "friends", "ann")
	require.NoError(t, err)

	// Codes are matched case-insensitively and whitespace-tolerantly.
	got, err := d.JoinByCode(ctx, "", "  "+r.Code+"  ")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	// Joining a specific room requires that room's own code.
	got, err = d.JoinByCode(ctx, r.ID, r.Code)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	other, err := d.CreateRoom(ctx, "other", "bob")
	require.NoError(t, err)
	_, err = d.JoinByCode(ctx, r.ID, other.Code)
	assert.ErrorIs(t, err, ErrBadRoomCode)

	_, err = d.JoinByCode(ctx, "", "short")
	assert.ErrorIs(t, err, ErrBadRoomCode)
	_, err = d.JoinByCode(ctx, "", "ZZZZZZ")
	assert.ErrorIs(t, err, ErrBadRoomCode)
}
