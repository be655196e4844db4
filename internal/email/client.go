// Package email delivers finished assessments by email through Resend.
package email

import (
	"context"

	"github.com/nyashahama/event-risk-assessor/internal/export"
)

// Sender is what the export email sink needs. Tests inject a stub that
// records calls without hitting the network.
type Sender interface {
	// SendAssessmentReady mails the rendered report, PDF attached, to the
	// configured recipients.
	SendAssessmentReady(ctx context.Context, p export.Notification) error
}

var _ export.Notifier = (Sender)(nil)
