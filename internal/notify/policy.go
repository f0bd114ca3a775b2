// Package notify decides whether, to whom, and through which
// connections a notification reaches a user, and exposes the typed
// hook surface other subsystems call to push business events.
package notify

import "coursepulse/internal/event"

// rule is one row of the closed delivery table. Exempt types bypass
// the per-category toggles (never the master in-app toggle); category
// picks the preference field that gates the type.
type rule struct {
	exempt   bool
	category func(p *event.Preferences) bool
}

// policyTable is the total mapping from notification type to delivery
// rule. Types absent from the table are non-exempt and category-absent,
// which denies them.
var policyTable = map[string]rule{
	event.NotifSecurityAlert:    {exempt: true},
	event.NotifDirectMessage:    {exempt: true},
	event.NotifPaymentConfirmed: {exempt: true},
	event.NotifPaymentFailed:    {exempt: true},
	event.NotifRefundProcessed:  {exempt: true},
	event.NotifPayoutProcessed:  {exempt: true},
	event.NotifAccountAction:    {exempt: true},
	event.NotifCertificateReady: {exempt: true},

	event.NotifWorkGraded:    {category: func(p *event.Preferences) bool { return p.AssignmentUpdates }},
	event.NotifAssignmentDue: {category: func(p *event.Preferences) bool { return p.AssignmentUpdates }},

	event.NotifCourseUpdated: {category: func(p *event.Preferences) bool { return p.CourseUpdates }},
	event.NotifCourseStatus:  {category: func(p *event.Preferences) bool { return p.CourseUpdates }},
	event.NotifNewEnrollment: {category: func(p *event.Preferences) bool { return p.CourseUpdates }},

	event.NotifQuestionAnswered: {category: func(p *event.Preferences) bool { return p.DiscussionActivity }},
	event.NotifStudentQuestion:  {category: func(p *event.Preferences) bool { return p.DiscussionActivity }},
	event.NotifDiscussionReply:  {category: func(p *event.Preferences) bool { return p.DiscussionActivity }},

	event.NotifAccountUpdate:  {category: func(p *event.Preferences) bool { return p.AccountUpdates }},
	event.NotifMarketingPromo: {category: func(p *event.Preferences) bool { return p.Marketing }},
}

// ShouldDeliver is the delivery-eligibility policy. Pure: the same
// (notification type, preference record) pair always yields the same
// answer.
//
// With a record: master in-app toggle AND (exempt type OR category
// toggle). Without a record: exempt types only.
func ShouldDeliver(n *event.Notification, prefs *event.Preferences) bool {
	r, mapped := policyTable[n.Type]

	if prefs == nil {
		return mapped && r.exempt
	}
	if !prefs.InApp {
		return false
	}
	if !mapped {
		return false
	}
	if r.exempt {
		return true
	}
	return r.category != nil && r.category(prefs)
}

// Exempt reports whether the type bypasses category toggles.
func Exempt(notifType string) bool {
	return policyTable[notifType].exempt
}
