package event

import "time"

// Notification type strings. The delivery policy keys off these; any
// string outside this set is denied by default.
const (
	NotifSecurityAlert    = "security_alert"
	NotifDirectMessage    = "direct_message"
	NotifPaymentConfirmed = "payment_confirmed"
	NotifPaymentFailed    = "payment_failed"
	NotifRefundProcessed  = "refund_processed"
	NotifPayoutProcessed  = "payout_processed"
	NotifAccountAction    = "account_action"
	NotifCertificateReady = "certificate_ready"
	NotifWorkGraded       = "work_graded"
	NotifAssignmentDue    = "assignment_due"
	NotifCourseUpdated    = "course_updated"
	NotifCourseStatus     = "course_status_update"
	NotifNewEnrollment    = "new_enrollment"
	NotifQuestionAnswered = "question_answered"
	NotifStudentQuestion  = "student_question"
	NotifDiscussionReply  = "discussion_reply"
	NotifAccountUpdate    = "account_update"
	NotifMarketingPromo   = "marketing_promo"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Notification is an already-persisted record owned by the durable
// notification store. The engine only reads it to decide live delivery
// and the flush-on-connect replay.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// Preferences is the per-user persisted notification configuration.
// Absence of a record means "no delivery" unless the type is exempt.
type Preferences struct {
	UserID             string    `json:"user_id"`
	InApp              bool      `json:"in_app"`
	Email              bool      `json:"email"`
	Push               bool      `json:"push"`
	SMS                bool      `json:"sms"`
	AssignmentUpdates  bool      `json:"assignment_updates"`
	CourseUpdates      bool      `json:"course_updates"`
	AccountUpdates     bool      `json:"account_updates"`
	Marketing          bool      `json:"marketing"`
	DiscussionActivity bool      `json:"discussion_activity"`
	PaymentUpdates     bool      `json:"payment_updates"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultPreferences returns the record created the first time a user
// saves settings: everything on except marketing.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:             userID,
		InApp:              true,
		Email:              true,
		Push:               true,
		SMS:                false,
		AssignmentUpdates:  true,
		CourseUpdates:      true,
		AccountUpdates:     true,
		Marketing:          false,
		DiscussionActivity: true,
		PaymentUpdates:     true,
	}
}

// PreferencesPatch carries a partial settings update; nil fields are
// left unchanged by Apply.
type PreferencesPatch struct {
	InApp              *bool `json:"in_app,omitempty"`
	Email              *bool `json:"email,omitempty"`
	Push               *bool `json:"push,omitempty"`
	SMS                *bool `json:"sms,omitempty"`
	AssignmentUpdates  *bool `json:"assignment_updates,omitempty"`
	CourseUpdates      *bool `json:"course_updates,omitempty"`
	AccountUpdates     *bool `json:"account_updates,omitempty"`
	Marketing          *bool `json:"marketing,omitempty"`
	DiscussionActivity *bool `json:"discussion_activity,omitempty"`
	PaymentUpdates     *bool `json:"payment_updates,omitempty"`
}

// Apply merges the patch into prefs.
func (p *PreferencesPatch) Apply(prefs *Preferences) {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&prefs.InApp, p.InApp)
	set(&prefs.Email, p.Email)
	set(&prefs.Push, p.Push)
	set(&prefs.SMS, p.SMS)
	set(&prefs.AssignmentUpdates, p.AssignmentUpdates)
	set(&prefs.CourseUpdates, p.CourseUpdates)
	set(&prefs.AccountUpdates, p.AccountUpdates)
	set(&prefs.Marketing, p.Marketing)
	set(&prefs.DiscussionActivity, p.DiscussionActivity)
	set(&prefs.PaymentUpdates, p.PaymentUpdates)
}
