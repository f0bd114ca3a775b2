package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coursepulse/internal/event"
	"coursepulse/internal/registry"
)

// Fanout is the broadcast-capable slice of the registry the hook
// surface needs beyond plain presence.
type Fanout interface {
	Presence
	BroadcastScope(scope, eventName string, payload any, excludeConnID string) int
	BroadcastAll(eventName string, payload any) int
	DisconnectUser(userID, eventName string, payload any) int
}

// Hooks is the typed, synchronous entry point surface other subsystems
// call after they have durably recorded the underlying domain event.
// Nothing here touches persistence; each hook wraps a push or a
// broadcast with a fixed event name and payload shape.
type Hooks struct {
	notifier *Notifier
	fanout   Fanout
	logger   *zap.Logger
}

func NewHooks(notifier *Notifier, fanout Fanout, logger *zap.Logger) *Hooks {
	return &Hooks{notifier: notifier, fanout: fanout, logger: logger.Named("hooks")}
}

// PaymentSucceeded notifies the buyer. Payment outcomes are exempt
// types: they reach online users regardless of category toggles.
func (h *Hooks) PaymentSucceeded(ctx context.Context, userID, courseID, reference string, amountCents int64, currency string) {
	h.notifier.PushEvent(ctx, userID, event.OutPaymentConfirmed, &event.Notification{
		UserID:   userID,
		Type:     event.NotifPaymentConfirmed,
		Priority: event.PriorityHigh,
		Title:    "Payment confirmed",
		Message:  "Your payment was processed successfully.",
		Data: map[string]any{
			"course_id":    courseID,
			"reference":    reference,
			"amount_cents": amountCents,
			"currency":     currency,
		},
		CreatedAt: time.Now(),
	})
}

func (h *Hooks) PaymentFailed(ctx context.Context, userID, courseID, reference, reason string) {
	h.notifier.PushEvent(ctx, userID, event.OutPaymentFailed, &event.Notification{
		UserID:   userID,
		Type:     event.NotifPaymentFailed,
		Priority: event.PriorityUrgent,
		Title:    "Payment failed",
		Message:  "Your payment could not be processed.",
		Data: map[string]any{
			"course_id": courseID,
			"reference": reference,
			"reason":    reason,
		},
		CreatedAt: time.Now(),
	})
}

func (h *Hooks) RefundProcessed(ctx context.Context, userID, courseID, reference string, amountCents int64) {
	h.notifier.PushEvent(ctx, userID, event.OutRefundProcessed, &event.Notification{
		UserID:   userID,
		Type:     event.NotifRefundProcessed,
		Priority: event.PriorityHigh,
		Title:    "Refund processed",
		Message:  "Your refund has been issued.",
		Data: map[string]any{
			"course_id":    courseID,
			"reference":    reference,
			"amount_cents": amountCents,
		},
		CreatedAt: time.Now(),
	})
}

// PayoutProcessed notifies an instructor that earnings were paid out.
func (h *Hooks) PayoutProcessed(ctx context.Context, instructorID, reference string, amountCents int64, currency string) {
	h.notifier.PushEvent(ctx, instructorID, event.OutPayoutProcessed, &event.Notification{
		UserID:   instructorID,
		Type:     event.NotifPayoutProcessed,
		Priority: event.PriorityHigh,
		Title:    "Payout processed",
		Message:  "Your earnings payout is on its way.",
		Data: map[string]any{
			"reference":    reference,
			"amount_cents": amountCents,
			"currency":     currency,
		},
		CreatedAt: time.Now(),
	})
}

// EnrollmentCreated notifies the course instructor about a new
// student. Subject to the courseUpdates toggle.
func (h *Hooks) EnrollmentCreated(ctx context.Context, instructorID, courseID, studentID string) {
	h.notifier.PushNotification(ctx, instructorID, &event.Notification{
		UserID:   instructorID,
		Type:     event.NotifNewEnrollment,
		Priority: event.PriorityNormal,
		Title:    "New enrollment",
		Message:  "A new student enrolled in your course.",
		Data: map[string]any{
			"course_id":  courseID,
			"student_id": studentID,
		},
		CreatedAt: time.Now(),
	})
}

func (h *Hooks) CertificateIssued(ctx context.Context, userID, courseID, certificateID string) {
	h.notifier.PushNotification(ctx, userID, &event.Notification{
		UserID:   userID,
		Type:     event.NotifCertificateReady,
		Priority: event.PriorityHigh,
		Title:    "Certificate ready",
		Message:  "Your course certificate is ready to download.",
		Data: map[string]any{
			"course_id":      courseID,
			"certificate_id": certificateID,
		},
		CreatedAt: time.Now(),
	})
}

// CourseModerated informs the course owner of a moderation outcome and
// fans the status change out to everyone currently in the course room.
func (h *Hooks) CourseModerated(ctx context.Context, ownerID, courseID, status, reason string) {
	h.notifier.PushEvent(ctx, ownerID, event.OutCourseStatusUpdate, &event.Notification{
		UserID:   ownerID,
		Type:     event.NotifCourseStatus,
		Priority: event.PriorityHigh,
		Title:    "Course status changed",
		Message:  "A moderation decision was made on your course.",
		Data: map[string]any{
			"course_id": courseID,
			"status":    status,
			"reason":    reason,
		},
		CreatedAt: time.Now(),
	})
	h.fanout.BroadcastScope(registry.CourseScope(courseID), event.OutCourseStatusUpdate, map[string]any{
		"course_id": courseID,
		"status":    status,
	}, "")
}

// AccountAction notifies a user of an administrative decision on their
// account (warning, suspension notice, reinstatement). Exempt type.
func (h *Hooks) AccountAction(ctx context.Context, userID, action, reason string) {
	h.notifier.PushEvent(ctx, userID, event.OutAccountAction, &event.Notification{
		UserID:   userID,
		Type:     event.NotifAccountAction,
		Priority: event.PriorityUrgent,
		Title:    "Account update",
		Message:  "An administrative action was taken on your account.",
		Data: map[string]any{
			"action": action,
			"reason": reason,
		},
		CreatedAt: time.Now(),
	})
}

// ForceDisconnect terminates every open connection of the target user
// after delivering a termination event on each. Returns how many
// connections were closed.
func (h *Hooks) ForceDisconnect(ctx context.Context, userID, reason string) int {
	n := h.fanout.DisconnectUser(userID, event.OutForceDisconnect, map[string]any{
		"reason": reason,
	})
	h.logger.Info("forced disconnect",
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.Int("connections", n))
	return n
}

// BroadcastToRole fans a fixed event out to every connection in the
// role scope.
func (h *Hooks) BroadcastToRole(role, eventName string, payload any) int {
	return h.fanout.BroadcastScope(registry.RoleScope(role), eventName, payload, "")
}

// BroadcastAll fans a system-wide event out to every open connection.
func (h *Hooks) BroadcastAll(eventName string, payload any) int {
	return h.fanout.BroadcastAll(eventName, payload)
}
