package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coursepulse/internal/event"
	"coursepulse/internal/registry"
)

type fakeFanout struct {
	fakePresence
	scopeSends   []string // "scope/event"
	broadcasts   []string
	disconnected map[string]int // user -> connections closed
}

func (f *fakeFanout) BroadcastScope(scope, eventName string, payload any, excludeConnID string) int {
	f.scopeSends = append(f.scopeSends, scope+"/"+eventName)
	return 1
}

func (f *fakeFanout) BroadcastAll(eventName string, payload any) int {
	f.broadcasts = append(f.broadcasts, eventName)
	return 3
}

func (f *fakeFanout) DisconnectUser(userID, eventName string, payload any) int {
	if f.disconnected == nil {
		f.disconnected = make(map[string]int)
	}
	n := 2 // simulate a two-device user
	f.disconnected[userID] = n
	return n
}

func newTestHooks(online ...string) (*Hooks, *fakeFanout) {
	fanout := &fakeFanout{fakePresence: fakePresence{online: map[string]bool{}}}
	for _, u := range online {
		fanout.online[u] = true
	}
	notifier := NewNotifier(fanout, &fakePrefStore{}, &fakePending{}, 20, zap.NewNop())
	return NewHooks(notifier, fanout, zap.NewNop()), fanout
}

func TestPaymentHooksReachOnlineUser(t *testing.T) {
	h, fanout := newTestHooks("alice")

	h.PaymentSucceeded(context.Background(), "alice", "go-101", "ref-1", 4999, "USD")
	h.PaymentFailed(context.Background(), "alice", "go-101", "ref-2", "card_declined")
	h.RefundProcessed(context.Background(), "alice", "go-101", "ref-3", 4999)

	assert.Equal(t, []string{
		"alice/" + event.OutPaymentConfirmed,
		"alice/" + event.OutPaymentFailed,
		"alice/" + event.OutRefundProcessed,
	}, fanout.sends)
}

func TestPaymentFailedReachesUserWithoutPreferenceRecord(t *testing.T) {
	// Payment outcomes are exempt: no settings record needed.
	h, fanout := newTestHooks("alice")
	h.PaymentFailed(context.Background(), "alice", "go-101", "ref-1", "card_declined")
	require.Len(t, fanout.sends, 1)
}

func TestPayoutReachesInstructor(t *testing.T) {
	h, fanout := newTestHooks("teach")
	h.PayoutProcessed(context.Background(), "teach", "payout-1", 120000, "USD")
	assert.Equal(t, []string{"teach/" + event.OutPayoutProcessed}, fanout.sends)
}

func TestEnrollmentHookDeniedWithoutPreferenceRecord(t *testing.T) {
	// new_enrollment sits behind the courseUpdates category, and the
	// absent record denies non-exempt types.
	h, fanout := newTestHooks("teach")
	h.EnrollmentCreated(context.Background(), "teach", "go-101", "alice")
	assert.Empty(t, fanout.sends)
}

func TestCourseModeratedPushesOwnerAndFansOutToRoom(t *testing.T) {
	h, fanout := newTestHooks("teach")

	h.CourseModerated(context.Background(), "teach", "go-101", "unpublished", "policy violation")

	assert.Equal(t, []string{"teach/" + event.OutCourseStatusUpdate}, fanout.sends)
	assert.Equal(t, []string{registry.CourseScope("go-101") + "/" + event.OutCourseStatusUpdate}, fanout.scopeSends)
}

func TestAccountActionIsExempt(t *testing.T) {
	h, fanout := newTestHooks("alice")
	h.AccountAction(context.Background(), "alice", "suspension", "policy violation")
	assert.Equal(t, []string{"alice/" + event.OutAccountAction}, fanout.sends)
}

func TestForceDisconnectClosesAllConnections(t *testing.T) {
	h, fanout := newTestHooks()

	n := h.ForceDisconnect(context.Background(), "alice", "account suspended")
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, fanout.disconnected["alice"])
}

func TestBroadcastHelpers(t *testing.T) {
	h, fanout := newTestHooks()

	h.BroadcastToRole(event.RoleInstructor, event.OutSystemUpdate, nil)
	h.BroadcastAll(event.OutEmergencyBroadcast, nil)

	assert.Equal(t, []string{registry.RoleScope(event.RoleInstructor) + "/" + event.OutSystemUpdate}, fanout.scopeSends)
	assert.Equal(t, []string{event.OutEmergencyBroadcast}, fanout.broadcasts)
}
