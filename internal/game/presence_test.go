package game

import (
	"context"
	"testing"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceLifecycle(t *testing.T) {
	p := NewPresence()
	c1 := p.Attach(&fakeConn{})

	_, ok := p.UserOf(c1.Id)
	assert.False(t, ok)

	s, err := p.Identify("u1", "Alice", c1.Id)
	require.NoError(t, err)
	assert.Equal(t, c1.Id, s.ConnectionID)

	conn, ok := p.LiveConnectionOf("u1")
	require.True(t, ok)
	assert.Equal(t, c1.Id, conn)

	// A reconnect takes over; the stale connection closing does not clear it.
	c2 := p.Attach(&fakeConn{})
	_, err = p.Identify("u1", "Alice", c2.Id)
	require.NoError(t, err)
	p.OnDisconnect(c1.Id)
	conn, ok = p.LiveConnectionOf("u1")
	require.True(t, ok)
	assert.Equal(t, c2.Id, conn)

	p.OnDisconnect(c2.Id)
	_, ok = p.LiveConnectionOf("u1")
	assert.False(t, ok)

	sess, ok := p.Session("u1")
	require.True(t, ok)
	assert.Empty(t, sess.ConnectionID)
	assert.Equal(t, "Alice", sess.Username)

	_, err = p.Identify("u1", "Alice", "gone")
	assert.ErrorIs(t, err, internal.ErrNotFound)
}

func TestPresenceBroadcastSkipsBrokenConnections(t *testing.T) {
	p := NewPresence()
	ok1, ok2, broken := &fakeConn{}, &fakeConn{}, &fakeConn{fail: true}
	p.Attach(ok1)
	p.Attach(ok2)
	p.Attach(broken)

	sent := p.Broadcast(internal.Message[internal.PhaseData]{Type: internal.EventBetsClosed, Data: internal.PhaseData{Phase: internal.PhaseClosed}})
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, ok1.count(internal.EventBetsClosed))

	connected, identified, sessions := p.Counts()
	assert.Equal(t, 3, connected)
	assert.Zero(t, identified)
	assert.Zero(t, sessions)
}

func TestPresenceNotifyAdminsOnly(t *testing.T) {
	p := NewPresence()
	player, admin := &fakeConn{}, &fakeConn{}
	p.Attach(player)
	ac := p.Attach(admin)
	p.MarkAdmin(ac.Id)

	assert.Equal(t, 1, p.NotifyAdmins(internal.Message[any]{Type: internal.EventAdminClearBets}))
	assert.Zero(t, player.count(internal.EventAdminClearBets))
	assert.Equal(t, 1, admin.count(internal.EventAdminClearBets))

	assert.ErrorIs(t, p.Send("nobody", "x"), internal.ErrNotFound)
}

func TestDisconnectedWinnerGetsPendingPayoutOnce(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, testConfig(), fixedDraw(17))
	require.NoError(t, e.Start(ctx))
	c1, conn1 := join(t, e, "u1")

	_, _, err := e.PlaceBet(ctx, "u1", "number", "17", dec(100))
	require.NoError(t, err)
	e.Presence().OnDisconnect(c1.Id)

	_, err = e.ForceSpin(intPtr(17))
	require.NoError(t, err)
	waitForRounds(t, e, 1)

	assert.Zero(t, conn1.count(internal.EventPayoutReceived))
	assert.True(t, balanceOf(t, e, "u1").Equal(dec(4400)))

	_, conn2 := join(t, e, "u1")
	pending := decodeAll[internal.PendingPayoutData](t, conn2, internal.EventPendingPayout)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Amount.Equal(dec(3500)))
	assert.True(t, pending[0].NewBalance.Equal(dec(4400)))
	assert.Less(t, conn2.indexOf(internal.EventGameState), conn2.indexOf(internal.EventPendingPayout))

	_, conn3 := join(t, e, "u1")
	assert.Zero(t, conn3.count(internal.EventPendingPayout))
	assert.True(t, balanceOf(t, e, "u1").Equal(dec(4400)))
}

func TestFailedLiveDeliveryFallsBackToPending(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, testConfig(), fixedDraw(20))
	require.NoError(t, e.Start(ctx))
	_, conn := join(t, e, "u1")

	_, _, err := e.PlaceBet(ctx, "u1", "dozen", "2nd", dec(30))
	require.NoError(t, err)
	conn.setFail(true)

	_, err = e.ForceSpin(nil)
	require.NoError(t, err)
	waitForRounds(t, e, 1)

	_, conn2 := join(t, e, "u1")
	pending := decodeAll[internal.PendingPayoutData](t, conn2, internal.EventPendingPayout)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Amount.Equal(dec(60)))
	assert.True(t, balanceOf(t, e, "u1").Equal(dec(1030)))
}

func TestIdentifySendsGameState(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, testConfig())
	require.NoError(t, e.Start(ctx))
	c, conn := join(t, e, "u1")

	_, _, err := e.PlaceBet(ctx, "u1", "color", "black", dec(25))
	require.NoError(t, err)

	// Same connection identifying again sees its bet.
	require.NoError(t, e.Identify(ctx, c, "u1", "Alice"))
	states := decodeAll[internal.GameStateData](t, conn, internal.EventGameState)
	require.Len(t, states, 2)
	assert.True(t, states[0].Balance.Equal(dec(1000)))
	assert.Equal(t, internal.PhaseBetting, states[1].Phase)
	assert.Equal(t, int64(1), states[1].RoundNumber)
	assert.True(t, states[1].Balance.Equal(dec(975)))
	require.Len(t, states[1].Bets, 1)
	assert.Equal(t, internal.BetColor, states[1].Bets[0].Kind)

	assert.ErrorIs(t, e.Identify(ctx, c, "", "nobody"), internal.ErrValidation)
}
