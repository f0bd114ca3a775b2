// Package event defines the wire contracts shared by the transport,
// dispatch, and notification layers: event names, the envelope every
// frame travels in, and the persisted models the engine reads.
package event

import (
	"encoding/json"
	"time"
)

// Inbound event names (client -> server).
const (
	InJoinCourse        = "join_course"
	InLeaveCourse       = "leave_course"
	InJoinLiveSession   = "join_live_session"
	InLeaveLiveSession  = "leave_live_session"
	InMarkRead          = "mark_notifications_read"
	InUpdateSettings    = "update_notification_settings"
	InTypingIndicator   = "typing_indicator"
	InDirectMessage     = "send_direct_message"
	InLessonProgress    = "lesson_progress"
	InCourseProgress    = "course_progress"
	InQuizSubmitted     = "quiz_submitted"
	InAssignmentSubmit  = "assignment_submitted"
	InAskQuestion       = "ask_question"
	InAnswerQuestion    = "answer_question"
	InLiveInteraction   = "live_interaction"
	InScreenShareToggle = "screen_share_toggle"
	InGradeSubmitted    = "grade_submitted"
	InContentUpdated    = "course_content_updated"
	InAdminAction       = "admin_action"
)

// Outbound event names (server -> client).
const (
	OutConnected            = "connected"
	OutJoinedCourse         = "joined_course"
	OutLeftCourse           = "left_course"
	OutJoinedLiveSession    = "joined_live_session"
	OutLeftLiveSession      = "left_live_session"
	OutStudentProgress      = "student_progress_update"
	OutGradingRequired      = "grading_required"
	OutStudentQuestion      = "student_question"
	OutQuestionAnswered     = "question_answered"
	OutWorkGraded           = "work_graded"
	OutCourseUpdated        = "course_updated"
	OutNewMessage           = "new_message"
	OutMessageSent          = "message_sent"
	OutTypingIndicator      = "typing_indicator"
	OutLiveInteraction      = "live_interaction"
	OutScreenShareUpdate    = "screen_share_update"
	OutNotification         = "notification"
	OutPendingNotifications = "pending_notifications"
	OutSecurityAlert        = "security_alert"
	OutAccountAction        = "account_action"
	OutCourseStatusUpdate   = "course_status_update"
	OutPaymentConfirmed     = "payment_confirmed"
	OutPaymentFailed        = "payment_failed"
	OutRefundProcessed      = "refund_processed"
	OutPayoutProcessed      = "payout_processed"
	OutForceDisconnect      = "force_disconnect"
	OutRemovedFromCourse    = "removed_from_course"
	OutEmergencyBroadcast   = "emergency_broadcast"
	OutMaintenance          = "maintenance_broadcast"
	OutSystemUpdate         = "system_update"
	OutSettingsUpdated      = "settings_updated"
	OutError                = "error"
)

// Roles recognized at handshake time.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

// Envelope is the frame shape for every server -> client event. The
// timestamp is stamped immediately before transmission.
type Envelope struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Inbound is the frame shape for client -> server events. Payload stays
// raw until the dispatcher knows which shape to decode into.
type Inbound struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Identity is the result of resolving a bearer credential at handshake.
type Identity struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// ValidRole reports whether the role is one the engine recognizes.
func ValidRole(role string) bool {
	return role == RoleStudent || role == RoleInstructor || role == RoleAdmin
}
