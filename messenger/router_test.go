package messenger

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testConn(userID uint) *Connection {
	return newConnection(userID, &recordingTransport{}, DefaultOptions(), zerolog.Nop())
}

func TestRouter_BothDirectionsStayInSync(t *testing.T) {
	r := NewRouter()
	a, b := testConn(1), testConn(2)

	require.True(t, r.Join(10, a))
	require.False(t, r.Join(10, a))
	require.True(t, r.Join(11, a))
	require.True(t, r.Join(10, b))

	require.ElementsMatch(t, []uint{10, 11}, r.Rooms(a))
	require.ElementsMatch(t, []*Connection{a, b}, r.MembersOf(10))

	require.ElementsMatch(t, []uint{10, 11}, r.LeaveAll(a))
	require.Empty(t, r.Rooms(a))
	require.False(t, r.IsMember(10, a))
	require.True(t, r.IsMember(10, b))

	require.True(t, r.Leave(10, b))
	require.False(t, r.Leave(10, b))
	require.Empty(t, r.MembersOf(10))
}

func TestRouter_BroadcastSkipsExcept(t *testing.T) {
	r := NewRouter()
	a, b := testConn(1), testConn(2)
	r.Join(5, a)
	r.Join(5, b)

	require.Equal(t, []uint{2}, r.Broadcast(5, EventTyping, TypingPayload{}, a))
	require.Len(t, b.outbound, 1)
	require.Empty(t, a.outbound)
}

func TestRouter_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	r := NewRouter()
	conns := make([]*Connection, 20)
	for i := range conns {
		conns[i] = testConn(uint(i + 1))
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Join(1, c)
				r.Broadcast(1, EventTyping, TypingPayload{}, c)
				r.Leave(1, c)
			}
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				for _, c := range conns {
					select {
					case <-c.outbound:
					default:
					}
				}
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("router deadlocked")
	}
	require.Empty(t, r.MembersOf(1))
}

func TestPresence_Transitions(t *testing.T) {
	p := NewPresence()
	a1, a2 := testConn(1), testConn(1)

	var seen []bool
	unsubscribe := p.Subscribe(1, func(_ uint, online bool) { seen = append(seen, online) })

	require.True(t, p.SetOnline(1, a1))
	require.False(t, p.SetOnline(1, a2))
	require.False(t, p.SetOffline(1, a1))
	require.True(t, p.IsOnline(1))
	require.True(t, p.SetOffline(1, a2))
	require.False(t, p.SetOffline(1, a2))
	require.Equal(t, []bool{true, false}, seen)

	unsubscribe()
	p.SetOnline(1, a1)
	require.Len(t, seen, 2)
	require.Equal(t, []uint{1}, p.OnlineAmong([]uint{1, 2}))
}

func TestTyping_RefreshRearmsTimer(t *testing.T) {
	fired := make(chan uint, 4)
	ty := NewTyping(40*time.Millisecond, func(room, _ uint, _ *Connection) { fired <- room })
	c := testConn(1)

	ty.Start(3, c)
	time.Sleep(25 * time.Millisecond)
	ty.Start(3, c)
	time.Sleep(25 * time.Millisecond)
	require.Empty(t, fired)
	require.True(t, ty.Active(3, 1))

	select {
	case room := <-fired:
		require.EqualValues(t, 3, room)
	case <-time.After(time.Second):
		t.Fatal("typing never expired")
	}
	require.False(t, ty.Active(3, 1))
}

func TestTyping_StopConnection(t *testing.T) {
	fired := make(chan uint, 4)
	ty := NewTyping(20*time.Millisecond, func(room, _ uint, _ *Connection) { fired <- room })
	c := testConn(1)

	ty.Start(1, c)
	ty.Start(2, c)
	require.ElementsMatch(t, []uint{1, 2}, ty.StopConnection(c))
	require.False(t, ty.Stop(1, 1))

	time.Sleep(60 * time.Millisecond)
	require.Empty(t, fired)
}

func TestRouter_JoinRefusesClosedConnection(t *testing.T) {
	r := NewRouter()
	c := testConn(1)
	c.close()

	require.False(t, r.Join(10, c))
	require.Empty(t, r.Rooms(c))
	require.Empty(t, r.MembersOf(10))
}
