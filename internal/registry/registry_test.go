package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentEvent struct {
	event   string
	payload any
}

// fakeLink is an in-memory Link for exercising the registry without a
// socket.
type fakeLink struct {
	id          string
	userID      string
	role        string
	connectedAt time.Time

	mu      sync.Mutex
	sent    []sentEvent
	closed  bool
	sendErr error
}

func newFakeLink(id, userID, role string) *fakeLink {
	return &fakeLink{id: id, userID: userID, role: role, connectedAt: time.Now()}
}

func (f *fakeLink) ID() string             { return f.id }
func (f *fakeLink) UserID() string         { return f.userID }
func (f *fakeLink) Role() string           { return f.role }
func (f *fakeLink) ConnectedAt() time.Time { return f.connectedAt }

func (f *fakeLink) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeLink) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentEvent{event, payload})
	return nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) sentEvents() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentEvent, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestRegistry() *Registry {
	return New(zap.NewNop())
}

func TestRegisterEstablishesPresence(t *testing.T) {
	r := newTestRegistry()
	link := newFakeLink("c1", "alice", "student")

	require.NoError(t, r.Register(link))
	assert.True(t, r.IsOnline("alice"))
	assert.Equal(t, 1, r.ConnectionCount("alice"))
}

func TestRegisterRejectsNilAndDuplicate(t *testing.T) {
	r := newTestRegistry()
	link := newFakeLink("c1", "alice", "student")

	assert.ErrorIs(t, r.Register(nil), ErrNilLink)
	require.NoError(t, r.Register(link))
	assert.ErrorIs(t, r.Register(newFakeLink("c1", "bob", "student")), ErrDuplicateConnection)

	// The original registration survives the rejected duplicate.
	assert.True(t, r.IsOnline("alice"))
	assert.False(t, r.IsOnline("bob"))
}

func TestUnregisterLastConnectionTakesUserOffline(t *testing.T) {
	r := newTestRegistry()
	link := newFakeLink("c1", "alice", "student")
	require.NoError(t, r.Register(link))

	assert.True(t, r.Unregister("c1"))
	assert.False(t, r.IsOnline("alice"))
	assert.Equal(t, 0, r.ConnectionCount("alice"))

	// Unknown and repeated ids are harmless no-ops.
	assert.False(t, r.Unregister("c1"))
	assert.False(t, r.Unregister("never-existed"))
}

func TestMultiDevicePresence(t *testing.T) {
	r := newTestRegistry()
	phone := newFakeLink("c1", "alice", "student")
	laptop := newFakeLink("c2", "alice", "student")
	require.NoError(t, r.Register(phone))
	require.NoError(t, r.Register(laptop))

	assert.Equal(t, 2, r.ConnectionCount("alice"))

	r.Unregister("c1")
	assert.True(t, r.IsOnline("alice"), "user stays online while any connection remains")

	r.Unregister("c2")
	assert.False(t, r.IsOnline("alice"))
}

func TestSendToUserReachesEveryConnection(t *testing.T) {
	r := newTestRegistry()
	phone := newFakeLink("c1", "alice", "student")
	laptop := newFakeLink("c2", "alice", "student")
	require.NoError(t, r.Register(phone))
	require.NoError(t, r.Register(laptop))

	attempted := r.SendToUser("alice", "ping", nil)
	assert.Equal(t, 2, attempted)
	assert.Len(t, phone.sentEvents(), 1)
	assert.Len(t, laptop.sentEvents(), 1)
}

func TestSendToOfflineUserIsNoOp(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, 0, r.SendToUser("ghost", "ping", nil))
}

func TestSendFailureDoesNotBlockOtherDevices(t *testing.T) {
	r := newTestRegistry()
	dead := newFakeLink("c1", "alice", "student")
	dead.sendErr = fmt.Errorf("buffer full")
	ok := newFakeLink("c2", "alice", "student")
	require.NoError(t, r.Register(dead))
	require.NoError(t, r.Register(ok))

	r.SendToUser("alice", "ping", nil)
	assert.Len(t, ok.sentEvents(), 1)
}

func TestScopeMembershipFollowsConnectionLifetime(t *testing.T) {
	r := newTestRegistry()
	link := newFakeLink("c1", "alice", "student")
	require.NoError(t, r.Register(link))

	scope := CourseScope("go-101")
	require.NoError(t, r.JoinScope(link, scope))
	assert.True(t, r.InScope("c1", scope))

	r.Unregister("c1")
	assert.False(t, r.InScope("c1", scope), "scope membership never outlives the connection")
	assert.Equal(t, 0, r.Stats().Scopes, "empty scope is reclaimed")
}

func TestJoinScopeRefusesUnregisteredConnection(t *testing.T) {
	r := newTestRegistry()
	link := newFakeLink("c1", "alice", "student")

	assert.ErrorIs(t, r.JoinScope(link, CourseScope("go-101")), ErrNotRegistered)
	assert.Equal(t, 0, r.Stats().Scopes)
}

func TestLeaveScopeTolerant(t *testing.T) {
	r := newTestRegistry()
	link := newFakeLink("c1", "alice", "student")
	require.NoError(t, r.Register(link))

	// Leaving a scope never joined must not panic or corrupt state.
	r.LeaveScope(link, CourseScope("never-joined"))
	r.LeaveScope(nil, CourseScope("never-joined"))
	assert.True(t, r.IsOnline("alice"))
}

func TestBroadcastScopeExcludesSender(t *testing.T) {
	r := newTestRegistry()
	sender := newFakeLink("c1", "alice", "student")
	peer := newFakeLink("c2", "bob", "student")
	require.NoError(t, r.Register(sender))
	require.NoError(t, r.Register(peer))

	scope := LiveScope("session-1")
	require.NoError(t, r.JoinScope(sender, scope))
	require.NoError(t, r.JoinScope(peer, scope))

	sent := r.BroadcastScope(scope, "chat", map[string]any{"text": "hi"}, "c1")
	assert.Equal(t, 1, sent)
	assert.Empty(t, sender.sentEvents())
	assert.Len(t, peer.sentEvents(), 1)
}

func TestScopeUsersDeduplicatesDevices(t *testing.T) {
	r := newTestRegistry()
	phone := newFakeLink("c1", "alice", "student")
	laptop := newFakeLink("c2", "alice", "student")
	require.NoError(t, r.Register(phone))
	require.NoError(t, r.Register(laptop))

	scope := CourseScope("go-101")
	require.NoError(t, r.JoinScope(phone, scope))
	require.NoError(t, r.JoinScope(laptop, scope))

	assert.Equal(t, []string{"alice"}, r.ScopeUsers(scope))
}

func TestDisconnectUserClosesEveryConnection(t *testing.T) {
	r := newTestRegistry()
	phone := newFakeLink("c1", "alice", "student")
	laptop := newFakeLink("c2", "alice", "student")
	require.NoError(t, r.Register(phone))
	require.NoError(t, r.Register(laptop))

	n := r.DisconnectUser("alice", "force_disconnect", map[string]any{"reason": "violation"})
	assert.Equal(t, 2, n)
	assert.False(t, r.IsOnline("alice"))
	assert.False(t, phone.Alive())
	assert.False(t, laptop.Alive())

	// The termination event went out before the close.
	events := phone.sentEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "force_disconnect", events[0].event)
}

func TestOnlineUsersRoleFilter(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(newFakeLink("c1", "alice", "student")))
	require.NoError(t, r.Register(newFakeLink("c2", "bob", "instructor")))

	assert.ElementsMatch(t, []string{"alice", "bob"}, r.OnlineUsers(""))
	assert.Equal(t, []string{"bob"}, r.OnlineUsers("instructor"))
	assert.Empty(t, r.OnlineUsers("admin"))
}

func TestSweepRemovesDeadStaleConnections(t *testing.T) {
	r := newTestRegistry()

	stale := newFakeLink("c1", "alice", "student")
	stale.connectedAt = time.Now().Add(-time.Hour)
	_ = stale.Close()

	freshDead := newFakeLink("c2", "bob", "student")
	_ = freshDead.Close()

	healthy := newFakeLink("c3", "carol", "student")

	require.NoError(t, r.Register(stale))
	require.NoError(t, r.Register(freshDead))
	require.NoError(t, r.Register(healthy))

	removed := r.Sweep(30 * time.Minute)
	require.Len(t, removed, 1)
	assert.Equal(t, "c1", removed[0].ID())

	assert.False(t, r.IsOnline("alice"))
	assert.True(t, r.IsOnline("bob"), "recently connected dead links wait for the next pass")
	assert.True(t, r.IsOnline("carol"))
}

func TestConcurrentChurn(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", n%10)
			link := newFakeLink(fmt.Sprintf("conn-%d", n), userID, "student")
			if err := r.Register(link); err != nil {
				return
			}
			_ = r.JoinScope(link, CourseScope("go-101"))
			r.SendToUser(userID, "ping", nil)
			r.Unregister(link.ID())
		}(i)
	}
	wg.Wait()

	stats := r.Stats()
	assert.Equal(t, 0, stats.Connections)
	assert.Equal(t, 0, stats.OnlineUsers)
	assert.Equal(t, 0, stats.Scopes)
}
