// Package dispatch routes inbound client events to the registry, the
// live coordinator, the notification policy, and the store. Every
// handler isolates its own failures: a bad event yields a scoped error
// frame on the offending connection and nothing else.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"coursepulse/internal/event"
	"coursepulse/internal/live"
	"coursepulse/internal/notify"
	"coursepulse/internal/registry"
)

// CourseAccess is the external authorization hook: enrollment for
// students, ownership for instructors, unconditional for admins. Any
// error or timeout from the hook is treated as denial.
type CourseAccess interface {
	CanAccessCourse(ctx context.Context, userID, role, courseID string) (bool, error)
}

// Settings is the persistence slice the dispatcher needs for the
// mark-read and preference-update events.
type Settings interface {
	GetPreferences(ctx context.Context, userID string) (*event.Preferences, error)
	SavePreferences(ctx context.Context, p *event.Preferences) error
	MarkNotificationsRead(ctx context.Context, userID string, ids []string) error
}

type Router struct {
	registry      *registry.Registry
	live          *live.Coordinator
	notifier      *notify.Notifier
	hooks         *notify.Hooks
	settings      Settings
	access        CourseAccess
	accessTimeout time.Duration
	limiter       *RateLimiter
	logger        *zap.Logger
}

func NewRouter(reg *registry.Registry, liveCoord *live.Coordinator, notifier *notify.Notifier, hooks *notify.Hooks, settings Settings, access CourseAccess, accessTimeout time.Duration, logger *zap.Logger) *Router {
	return &Router{
		registry:      reg,
		live:          liveCoord,
		notifier:      notifier,
		hooks:         hooks,
		settings:      settings,
		access:        access,
		accessTimeout: accessTimeout,
		limiter:       NewRateLimiter(),
		logger:        logger.Named("dispatch"),
	}
}

// Limiter exposes the rate limiter for the maintenance sweep.
func (r *Router) Limiter() *RateLimiter { return r.limiter }

// Handle routes one raw inbound frame. Never returns an error to the
// transport: failures surface as scoped error events or logs so one
// connection's trouble cannot affect others.
func (r *Router) Handle(ctx context.Context, conn registry.Link, raw []byte) {
	var in event.Inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		r.sendError(conn, "malformed event frame")
		return
	}

	if !r.limiter.Allow(conn.UserID()) {
		r.sendError(conn, "rate limit exceeded")
		return
	}

	switch in.Event {
	case event.InJoinCourse:
		r.joinCourse(ctx, conn, in.Payload)
	case event.InLeaveCourse:
		r.leaveCourse(conn, in.Payload)
	case event.InJoinLiveSession:
		r.joinLiveSession(conn, in.Payload)
	case event.InLeaveLiveSession:
		r.leaveLiveSession(conn, in.Payload)
	case event.InMarkRead:
		r.markRead(ctx, conn, in.Payload)
	case event.InUpdateSettings:
		r.updateSettings(ctx, conn, in.Payload)
	case event.InTypingIndicator:
		r.typingIndicator(conn, in.Payload)
	case event.InDirectMessage:
		r.directMessage(ctx, conn, in.Payload)
	case event.InLessonProgress, event.InCourseProgress:
		r.progressSignal(conn, in.Event, in.Payload)
	case event.InQuizSubmitted, event.InAssignmentSubmit:
		r.submissionSignal(conn, in.Event, in.Payload)
	case event.InAskQuestion:
		r.askQuestion(conn, in.Payload)
	case event.InAnswerQuestion:
		r.answerQuestion(ctx, conn, in.Payload)
	case event.InLiveInteraction:
		r.liveInteraction(conn, in.Payload)
	case event.InScreenShareToggle:
		r.screenShareToggle(conn, in.Payload)
	case event.InGradeSubmitted:
		r.gradeSubmitted(ctx, conn, in.Payload)
	case event.InContentUpdated:
		r.contentUpdated(conn, in.Payload)
	case event.InAdminAction:
		r.adminAction(ctx, conn, in.Payload)
	default:
		r.sendError(conn, "unknown event: "+in.Event)
	}
}

// joinCourse authorizes through the external access hook and joins the
// course scope plus the role-qualified sub-scope. Fail-closed: hook
// errors and timeouts count as denial, and denial changes nothing but
// the error frame on the requesting connection.
func (r *Router) joinCourse(ctx context.Context, conn registry.Link, payload json.RawMessage) {
	var p struct {
		CourseID string `json:"course_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.CourseID == "" {
		r.sendError(conn, "course_id is required")
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, r.accessTimeout)
	defer cancel()

	allowed, err := r.access.CanAccessCourse(checkCtx, conn.UserID(), conn.Role(), p.CourseID)
	if err != nil {
		r.logger.Warn("course access check failed",
			zap.String("user_id", conn.UserID()),
			zap.String("course_id", p.CourseID),
			zap.Error(err))
		allowed = false
	}
	if !allowed {
		r.sendError(conn, "not authorized to join course "+p.CourseID)
		return
	}

	if err := r.registry.JoinScope(conn, registry.CourseScope(p.CourseID)); err != nil {
		r.sendError(conn, "could not join course")
		return
	}
	switch conn.Role() {
	case event.RoleStudent:
		_ = r.registry.JoinScope(conn, registry.CourseStudents(p.CourseID))
	case event.RoleInstructor:
		_ = r.registry.JoinScope(conn, registry.CourseStaff(p.CourseID))
	}

	_ = conn.Send(event.OutJoinedCourse, map[string]any{"course_id": p.CourseID})
}

// leaveCourse removes all three course scope memberships. Always
// succeeds, tolerant of partial prior membership.
func (r *Router) leaveCourse(conn registry.Link, payload json.RawMessage) {
	var p struct {
		CourseID string `json:"course_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.CourseID == "" {
		r.sendError(conn, "course_id is required")
		return
	}

	r.registry.LeaveScope(conn, registry.CourseScope(p.CourseID))
	r.registry.LeaveScope(conn, registry.CourseStudents(p.CourseID))
	r.registry.LeaveScope(conn, registry.CourseStaff(p.CourseID))
	_ = conn.Send(event.OutLeftCourse, map[string]any{"course_id": p.CourseID})
}

func (r *Router) joinLiveSession(conn registry.Link, payload json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		r.sendError(conn, "session_id is required")
		return
	}
	if err := r.live.Join(p.SessionID, conn); err != nil {
		r.sendError(conn, "could not join live session")
	}
}

func (r *Router) leaveLiveSession(conn registry.Link, payload json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		r.sendError(conn, "session_id is required")
		return
	}
	r.live.Leave(p.SessionID, conn)
}

// markRead forwards read acknowledgements to the store. Persistence
// failure is invisible to the user; it only gets logged.
func (r *Router) markRead(ctx context.Context, conn registry.Link, payload json.RawMessage) {
	var p struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || len(p.IDs) == 0 {
		r.sendError(conn, "ids are required")
		return
	}
	if err := r.settings.MarkNotificationsRead(ctx, conn.UserID(), p.IDs); err != nil {
		r.logger.Warn("mark read failed",
			zap.String("user_id", conn.UserID()), zap.Error(err))
	}
}

// updateSettings merges a partial preference patch and persists it.
// A persistence failure still acknowledges the attempt, with ok=false,
// instead of crashing the connection.
func (r *Router) updateSettings(ctx context.Context, conn registry.Link, payload json.RawMessage) {
	var patch event.PreferencesPatch
	if err := json.Unmarshal(payload, &patch); err != nil {
		r.sendError(conn, "malformed settings payload")
		return
	}

	prefs, err := r.settings.GetPreferences(ctx, conn.UserID())
	if err != nil {
		r.logger.Warn("preference load failed",
			zap.String("user_id", conn.UserID()), zap.Error(err))
	}
	if prefs == nil {
		prefs = event.DefaultPreferences(conn.UserID())
	}
	patch.Apply(prefs)

	ok := true
	if err := r.settings.SavePreferences(ctx, prefs); err != nil {
		ok = false
		r.logger.Warn("preference save failed",
			zap.String("user_id", conn.UserID()), zap.Error(err))
	}
	_ = conn.Send(event.OutSettingsUpdated, map[string]any{
		"ok":       ok,
		"settings": prefs,
	})
}

func (r *Router) typingIndicator(conn registry.Link, payload json.RawMessage) {
	var p struct {
		ToUserID string `json:"to_user_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.ToUserID == "" {
		r.sendError(conn, "to_user_id is required")
		return
	}
	r.registry.SendToUser(p.ToUserID, event.OutTypingIndicator, map[string]any{
		"from_user": conn.UserID(),
	})
}

// directMessage pushes through the notifier so the policy applies;
// direct messages are an exempt type, so the master in-app toggle is
// the only gate.
func (r *Router) directMessage(ctx context.Context, conn registry.Link, payload json.RawMessage) {
	var p struct {
		ToUserID string `json:"to_user_id"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.ToUserID == "" || p.Text == "" {
		r.sendError(conn, "to_user_id and text are required")
		return
	}

	delivered := r.notifier.PushEvent(ctx, p.ToUserID, event.OutNewMessage, &event.Notification{
		UserID:   p.ToUserID,
		Type:     event.NotifDirectMessage,
		Priority: event.PriorityNormal,
		Title:    "New message",
		Message:  p.Text,
		Data: map[string]any{
			"from_user": conn.UserID(),
		},
		CreatedAt: time.Now(),
	})
	_ = conn.Send(event.OutMessageSent, map[string]any{
		"to_user_id": p.ToUserID,
		"delivered":  delivered,
	})
}

// progressSignal fans lesson/course progress out to the course's
// instructor sub-scope.
func (r *Router) progressSignal(conn registry.Link, kind string, payload json.RawMessage) {
	var p struct {
		CourseID string         `json:"course_id"`
		Detail   map[string]any `json:"detail"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.CourseID == "" {
		r.sendError(conn, "course_id is required")
		return
	}
	r.registry.BroadcastScope(registry.CourseStaff(p.CourseID), event.OutStudentProgress, map[string]any{
		"course_id": p.CourseID,
		"kind":      kind,
		"detail":    p.Detail,
		"from_user": conn.UserID(),
	}, conn.ID())
}

// submissionSignal raises grading-required for quiz and assignment
// submissions toward the course staff.
func (r *Router) submissionSignal(conn registry.Link, kind string, payload json.RawMessage) {
	var p struct {
		CourseID string `json:"course_id"`
		ItemID   string `json:"item_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.CourseID == "" || p.ItemID == "" {
		r.sendError(conn, "course_id and item_id are required")
		return
	}
	r.registry.BroadcastScope(registry.CourseStaff(p.CourseID), event.OutGradingRequired, map[string]any{
		"course_id": p.CourseID,
		"item_id":   p.ItemID,
		"kind":      kind,
		"from_user": conn.UserID(),
	}, conn.ID())
}

func (r *Router) askQuestion(conn registry.Link, payload json.RawMessage) {
	var p struct {
		CourseID   string `json:"course_id"`
		QuestionID string `json:"question_id"`
		Text       string `json:"text"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.CourseID == "" || p.Text == "" {
		r.sendError(conn, "course_id and text are required")
		return
	}
	r.registry.BroadcastScope(registry.CourseStaff(p.CourseID), event.OutStudentQuestion, map[string]any{
		"course_id":   p.CourseID,
		"question_id": p.QuestionID,
		"text":        p.Text,
		"from_user":   conn.UserID(),
	}, conn.ID())
}

func (r *Router) answerQuestion(ctx context.Context, conn registry.Link, payload json.RawMessage) {
	if !r.requireRole(conn, event.RoleInstructor, event.RoleAdmin) {
		return
	}
	var p struct {
		CourseID   string `json:"course_id"`
		StudentID  string `json:"student_id"`
		QuestionID string `json:"question_id"`
		Text       string `json:"text"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.StudentID == "" || p.Text == "" {
		r.sendError(conn, "student_id and text are required")
		return
	}
	r.notifier.PushEvent(ctx, p.StudentID, event.OutQuestionAnswered, &event.Notification{
		UserID:   p.StudentID,
		Type:     event.NotifQuestionAnswered,
		Priority: event.PriorityNormal,
		Title:    "Your question was answered",
		Message:  p.Text,
		Data: map[string]any{
			"course_id":   p.CourseID,
			"question_id": p.QuestionID,
			"from_user":   conn.UserID(),
		},
		CreatedAt: time.Now(),
	})
}

func (r *Router) liveInteraction(conn registry.Link, payload json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
		Kind      string `json:"kind"`
		Content   any    `json:"content"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" || p.Kind == "" {
		r.sendError(conn, "session_id and kind are required")
		return
	}
	if err := r.live.RelayInteraction(p.SessionID, conn, p.Kind, p.Content); err != nil {
		r.sendError(conn, err.Error())
	}
}

func (r *Router) screenShareToggle(conn registry.Link, payload json.RawMessage) {
	var p struct {
		SessionID string `json:"session_id"`
		Active    bool   `json:"active"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		r.sendError(conn, "session_id is required")
		return
	}
	if err := r.live.RelayInteraction(p.SessionID, conn, live.InteractScreenShare, map[string]any{
		"active": p.Active,
	}); err != nil {
		r.sendError(conn, err.Error())
	}
}

// gradeSubmitted is instructor-gated and pushes the graded-work
// notification to the student through the policy (assignmentUpdates
// category).
func (r *Router) gradeSubmitted(ctx context.Context, conn registry.Link, payload json.RawMessage) {
	if !r.requireRole(conn, event.RoleInstructor, event.RoleAdmin) {
		return
	}
	var p struct {
		CourseID  string  `json:"course_id"`
		StudentID string  `json:"student_id"`
		ItemID    string  `json:"item_id"`
		Grade     float64 `json:"grade"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.StudentID == "" || p.ItemID == "" {
		r.sendError(conn, "student_id and item_id are required")
		return
	}
	r.notifier.PushEvent(ctx, p.StudentID, event.OutWorkGraded, &event.Notification{
		UserID:   p.StudentID,
		Type:     event.NotifWorkGraded,
		Priority: event.PriorityNormal,
		Title:    "Work graded",
		Message:  "One of your submissions has been graded.",
		Data: map[string]any{
			"course_id": p.CourseID,
			"item_id":   p.ItemID,
			"grade":     p.Grade,
		},
		CreatedAt: time.Now(),
	})
}

// contentUpdated is instructor-gated and fans the update out to
// everyone currently in the course room except the author.
func (r *Router) contentUpdated(conn registry.Link, payload json.RawMessage) {
	if !r.requireRole(conn, event.RoleInstructor, event.RoleAdmin) {
		return
	}
	var p struct {
		CourseID string `json:"course_id"`
		Summary  string `json:"summary"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.CourseID == "" {
		r.sendError(conn, "course_id is required")
		return
	}
	r.registry.BroadcastScope(registry.CourseScope(p.CourseID), event.OutCourseUpdated, map[string]any{
		"course_id": p.CourseID,
		"summary":   p.Summary,
	}, conn.ID())
}

// adminAction handles the role-gated operational actions.
func (r *Router) adminAction(ctx context.Context, conn registry.Link, payload json.RawMessage) {
	if !r.requireRole(conn, event.RoleAdmin) {
		return
	}
	var p struct {
		Action       string `json:"action"`
		TargetUserID string `json:"target_user_id"`
		CourseID     string `json:"course_id"`
		Message      string `json:"message"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.Action == "" {
		r.sendError(conn, "action is required")
		return
	}

	switch p.Action {
	case "emergency_broadcast":
		r.hooks.BroadcastAll(event.OutEmergencyBroadcast, map[string]any{"message": p.Message})
	case "maintenance_broadcast":
		r.hooks.BroadcastAll(event.OutMaintenance, map[string]any{"message": p.Message})
	case "system_update":
		r.hooks.BroadcastAll(event.OutSystemUpdate, map[string]any{"message": p.Message})
	case "force_disconnect":
		if p.TargetUserID == "" {
			r.sendError(conn, "target_user_id is required")
			return
		}
		r.hooks.ForceDisconnect(ctx, p.TargetUserID, p.Message)
	case "remove_from_course":
		if p.TargetUserID == "" || p.CourseID == "" {
			r.sendError(conn, "target_user_id and course_id are required")
			return
		}
		r.removeFromCourse(p.TargetUserID, p.CourseID, p.Message)
	default:
		r.sendError(conn, "unknown admin action: "+p.Action)
	}
}

// removeFromCourse evicts every connection of the target user from the
// course scopes and tells the user why.
func (r *Router) removeFromCourse(userID, courseID, reason string) {
	for _, link := range r.registry.Connections(userID) {
		r.registry.LeaveScope(link, registry.CourseScope(courseID))
		r.registry.LeaveScope(link, registry.CourseStudents(courseID))
		r.registry.LeaveScope(link, registry.CourseStaff(courseID))
	}
	r.registry.SendToUser(userID, event.OutRemovedFromCourse, map[string]any{
		"course_id": courseID,
		"reason":    reason,
	})
}

func (r *Router) requireRole(conn registry.Link, roles ...string) bool {
	for _, role := range roles {
		if conn.Role() == role {
			return true
		}
	}
	r.sendError(conn, "not authorized for this event")
	return false
}

// sendError emits the generic failure frame to one connection only.
func (r *Router) sendError(conn registry.Link, message string) {
	_ = conn.Send(event.OutError, map[string]any{"message": message})
}
