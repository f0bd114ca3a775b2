package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"coursepulse/internal/event"
)

func notif(notifType string) *event.Notification {
	return &event.Notification{UserID: "alice", Type: notifType}
}

func TestExemptTypesDeliverWithoutPreferenceRecord(t *testing.T) {
	for _, typ := range []string{
		event.NotifSecurityAlert,
		event.NotifDirectMessage,
		event.NotifPaymentConfirmed,
		event.NotifPaymentFailed,
		event.NotifRefundProcessed,
		event.NotifPayoutProcessed,
		event.NotifAccountAction,
		event.NotifCertificateReady,
	} {
		assert.True(t, ShouldDeliver(notif(typ), nil), typ)
	}
}

func TestCategoryTypesDeniedWithoutPreferenceRecord(t *testing.T) {
	assert.False(t, ShouldDeliver(notif(event.NotifWorkGraded), nil))
	assert.False(t, ShouldDeliver(notif(event.NotifCourseUpdated), nil))
	assert.False(t, ShouldDeliver(notif(event.NotifMarketingPromo), nil))
}

func TestUnmappedTypeAlwaysDenied(t *testing.T) {
	prefs := event.DefaultPreferences("alice")
	assert.False(t, ShouldDeliver(notif("brand_new_type"), prefs))
	assert.False(t, ShouldDeliver(notif("brand_new_type"), nil))
}

func TestMasterToggleOverridesExemption(t *testing.T) {
	prefs := event.DefaultPreferences("alice")
	prefs.InApp = false

	assert.False(t, ShouldDeliver(notif(event.NotifSecurityAlert), prefs))
	assert.False(t, ShouldDeliver(notif(event.NotifWorkGraded), prefs))
}

func TestCategoryToggleGatesNonExemptTypes(t *testing.T) {
	prefs := event.DefaultPreferences("alice")
	prefs.CourseUpdates = false

	assert.False(t, ShouldDeliver(notif(event.NotifCourseUpdated), prefs))
	assert.False(t, ShouldDeliver(notif(event.NotifNewEnrollment), prefs))
	assert.True(t, ShouldDeliver(notif(event.NotifWorkGraded), prefs),
		"other categories stay unaffected")
	assert.True(t, ShouldDeliver(notif(event.NotifPaymentFailed), prefs),
		"exempt types ignore category toggles")
}

func TestMarketingOffByDefault(t *testing.T) {
	prefs := event.DefaultPreferences("alice")
	assert.False(t, ShouldDeliver(notif(event.NotifMarketingPromo), prefs))

	prefs.Marketing = true
	assert.True(t, ShouldDeliver(notif(event.NotifMarketingPromo), prefs))
}

func TestPolicyIsDeterministic(t *testing.T) {
	prefs := event.DefaultPreferences("alice")
	n := notif(event.NotifDiscussionReply)
	first := ShouldDeliver(n, prefs)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, ShouldDeliver(n, prefs))
	}
}

func TestExempt(t *testing.T) {
	assert.True(t, Exempt(event.NotifDirectMessage))
	assert.False(t, Exempt(event.NotifWorkGraded))
	assert.False(t, Exempt("unmapped"))
}
