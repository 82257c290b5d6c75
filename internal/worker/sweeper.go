package worker

import (
	"context"
	"time"

	"esign-backend/internal/audit"
	"esign-backend/internal/envelopes"
	"esign-backend/internal/queue"
	"esign-backend/internal/shared/telemetry"
	"esign-backend/internal/workflows"
)

// Sweeper runs the periodic maintenance passes: expiring overdue envelopes
// and nudging recipients whose envelope carries a reminder cadence.
type Sweeper struct {
	Svc      *envelopes.Service
	Queue    queue.Client
	Interval time.Duration
}

func NewSweeper(svc *envelopes.Service, q queue.Client, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{Svc: svc, Queue: q, Interval: interval}
}

// Run loops both sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			s.SweepExpirations(ctx, now)
			s.SweepReminders(ctx, now)
		}
	}
}

// SweepExpirations moves envelopes past their deadline to expired. Returns
// the number expired.
func (s *Sweeper) SweepExpirations(ctx context.Context, now time.Time) int {
	envs, err := s.Svc.Repo.ListByStatusBefore(ctx, []envelopes.Status{envelopes.StatusSent, envelopes.StatusInProgress}, now)
	if err != nil {
		telemetry.Error("expiration sweep list failed", map[string]any{"error": err.Error()})
		return 0
	}
	expired := 0
	for _, env := range envs {
		if _, err := s.Svc.Expire(ctx, env.ID); err != nil {
			// Another worker may have won the transition.
			telemetry.Warn("expire failed", map[string]any{
				"envelope_id": env.ID,
				"error":       err.Error(),
			})
			continue
		}
		expired++
	}
	return expired
}

// SweepReminders enqueues a nudge for every active envelope whose cadence
// period has elapsed since the last reminder (or since send), and records a
// reminder_sent audit event. Returns the number of envelopes reminded.
func (s *Sweeper) SweepReminders(ctx context.Context, now time.Time) int {
	envs, err := s.Svc.Repo.ListWithReminderCadence(ctx, []envelopes.Status{envelopes.StatusSent, envelopes.StatusInProgress})
	if err != nil {
		telemetry.Error("reminder sweep list failed", map[string]any{"error": err.Error()})
		return 0
	}
	reminded := 0
	for _, env := range envs {
		if env.ExpiresAt != nil && !env.ExpiresAt.After(now) {
			continue
		}
		ok, err := s.remind(ctx, env, now)
		if err != nil {
			telemetry.Error("reminder failed", map[string]any{
				"envelope_id": env.ID,
				"error":       err.Error(),
			})
			continue
		}
		if ok {
			reminded++
		}
	}
	return reminded
}

func (s *Sweeper) remind(ctx context.Context, env envelopes.Envelope, now time.Time) (bool, error) {
	period := cadencePeriod(env.ReminderCadence)
	if period == 0 {
		return false, nil
	}

	events, err := s.Svc.Audit.ListByEnvelope(ctx, env.ID)
	if err != nil {
		return false, err
	}
	last := time.Time{}
	if env.SentAt != nil {
		last = *env.SentAt
	}
	for _, ev := range events {
		if ev.Type == audit.EventReminderSent && ev.CreatedAt.After(last) {
			last = ev.CreatedAt
		}
	}
	if last.IsZero() || now.Sub(last) < period {
		return false, nil
	}

	recs, err := s.Svc.Repo.ListRecipients(ctx, env.ID)
	if err != nil {
		return false, err
	}
	var targets []envelopes.Recipient
	for _, rec := range envelopes.NextRecipients(recs) {
		if rec.ReminderEnabled && rec.Role != envelopes.RoleViewer {
			targets = append(targets, rec)
		}
	}
	if len(targets) == 0 {
		return false, nil
	}

	recipientIDs := make([]string, 0, len(targets))
	for _, rec := range targets {
		recipientIDs = append(recipientIDs, rec.ID)
		msg := queue.Message{
			EnvelopeID:  env.ID,
			RecipientID: rec.ID,
			Action:      string(workflows.ActionNotifyRecipient),
			Trigger:     string(workflows.TriggerReminder),
			EnqueuedAt:  now.Format(time.RFC3339),
			Version:     1,
		}
		if err := s.Queue.Send(ctx, msg); err != nil {
			return false, err
		}
	}

	err = s.Svc.Runner.InTx(ctx, env.ID, func(ctx context.Context) error {
		_, err := s.Svc.Audit.Append(ctx, audit.Entry{
			EnvelopeID: env.ID,
			Type:       audit.EventReminderSent,
			Category:   "workflow",
			ActorType:  audit.ActorSystem,
			// Stamped with the sweep's clock so the next pass measures the
			// cadence from the same instant it decided on.
			CreatedAt: now,
			Metadata: map[string]any{
				"cadence":       string(env.ReminderCadence),
				"recipient_ids": recipientIDs,
			},
		})
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func cadencePeriod(c envelopes.ReminderCadence) time.Duration {
	switch c {
	case envelopes.ReminderDaily:
		return 24 * time.Hour
	case envelopes.ReminderWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}
