package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayadapter "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/relay/adapter"
	relayport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/relay/port"
)

type node struct {
	router *Router
	fanout *Fanout
}

func startNodes(t *testing.T, n int) []node {
	t.Helper()
	relay := relayadapter.NewMemoryRelay()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	nodes := make([]node, n)
	for i := range nodes {
		router := NewRouter(nil)
		nodes[i] = node{router: router, fanout: NewFanout(router, relay, nil)}
		go func(f *Fanout) { _ = f.Run(ctx) }(nodes[i].fanout)
	}
	require.Eventually(t, func() bool { return relay.Subscribers() == n }, time.Second, 5*time.Millisecond)
	return nodes
}

func TestFanout_ToRoomReachesPeerNodes(t *testing.T) {
	nodes := startNodes(t, 2)
	a, aFT := attach(t, nodes[0].router, "u1")
	b, bFT := attach(t, nodes[1].router, "u2")
	nodes[0].router.Join(a.ID, "c1")
	nodes[1].router.Join(b.ID, "c1")

	res := nodes[0].fanout.ToRoom(context.Background(), "c1", []byte("hi"), "")

	assert.Equal(t, 1, res.Attempted)
	require.Eventually(t, func() bool { return len(aFT.written()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(bFT.written()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestFanout_IgnoresOwnEnvelopes(t *testing.T) {
	nodes := startNodes(t, 1)
	a, aFT := attach(t, nodes[0].router, "u1")
	nodes[0].router.Join(a.ID, "c1")

	nodes[0].fanout.ToRoom(context.Background(), "c1", []byte("once"), "")

	require.Eventually(t, func() bool { return len(aFT.written()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, aFT.written(), 1)
}

func TestFanout_ToRoomSkipsUsersOutsideRoom(t *testing.T) {
	nodes := startNodes(t, 2)
	a, aFT := attach(t, nodes[0].router, "u1")
	_, bFT := attach(t, nodes[0].router, "u2")
	_, cFT := attach(t, nodes[1].router, "u3")
	nodes[0].router.Join(a.ID, "c1")

	res := nodes[0].fanout.ToRoom(context.Background(), "c1", []byte("msg"), "")

	assert.Equal(t, 1, res.Attempted)
	assert.Contains(t, res.Delivered, "u1")
	require.Eventually(t, func() bool { return len(aFT.written()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, bFT.written())
	assert.Empty(t, cFT.written())
}

func attachVia(t *testing.T, f *Fanout, userID string) (*Connection, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	conn := newConnection(userID, ft, 8)
	f.Attach(context.Background(), conn)
	t.Cleanup(func() {
		f.Detach(conn)
		conn.Close(1000, "test done")
	})
	return conn, ft
}

func TestFanout_AttachReplacesSessionOnPeerNode(t *testing.T) {
	nodes := startNodes(t, 2)
	first, firstFT := attachVia(t, nodes[0].fanout, "u1")
	second, _ := attachVia(t, nodes[1].fanout, "u1")

	require.Eventually(t, func() bool { return first.Status() == StatusDisconnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, CloseSessionReplaced, firstFT.code())
	assert.False(t, nodes[0].router.IsOnline("u1"))

	assert.Equal(t, StatusConnected, second.Status())
	assert.True(t, nodes[1].router.IsOnline("u1"))
}

func TestFanout_ReplaceIgnoredWhileOwnAnnouncementPending(t *testing.T) {
	nodes := startNodes(t, 1)
	conn, _ := attach(t, nodes[0].router, "u1")
	nodes[0].fanout.pending["u1"] = conn.ID

	nodes[0].fanout.handle(context.Background(), relayport.Envelope{
		Kind:    relayport.KindReplace,
		Origin:  "peer",
		UserIDs: []string{"u1"},
	})
	assert.Equal(t, StatusConnected, conn.Status())

	nodes[0].fanout.handle(context.Background(), relayport.Envelope{
		Kind:         relayport.KindReplace,
		Origin:       nodes[0].fanout.NodeID(),
		UserIDs:      []string{"u1"},
		ConnectionID: conn.ID,
	})
	nodes[0].fanout.handle(context.Background(), relayport.Envelope{
		Kind:    relayport.KindReplace,
		Origin:  "peer",
		UserIDs: []string{"u1"},
	})
	assert.Equal(t, StatusDisconnected, conn.Status())
}

func TestFanout_ToUserAndDisconnectAcrossNodes(t *testing.T) {
	nodes := startNodes(t, 2)
	conn, ft := attach(t, nodes[1].router, "u2")

	assert.False(t, nodes[0].fanout.ToUser(context.Background(), "u2", []byte("order")))
	require.Eventually(t, func() bool { return len(ft.written()) == 1 }, time.Second, 5*time.Millisecond)

	nodes[0].fanout.DisconnectUser(context.Background(), "u2", "revoked")
	require.Eventually(t, func() bool { return conn.Status() == StatusDisconnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, CloseSessionRevoked, ft.code())
	assert.False(t, nodes[1].router.IsOnline("u2"))
}

func TestFanout_WithoutRelayStaysLocal(t *testing.T) {
	router := NewRouter(nil)
	f := NewFanout(router, nil, nil)
	_, ft := attach(t, router, "u1")

	assert.True(t, f.ToUser(context.Background(), "u1", []byte("x")))
	require.Eventually(t, func() bool { return len(ft.written()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, f.Run(ctx))
}
