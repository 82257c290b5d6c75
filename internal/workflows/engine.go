package workflows

import (
	"context"
	"time"

	"esign-backend/internal/audit"
	"esign-backend/internal/envelopes"
	"esign-backend/internal/queue"
	"esign-backend/internal/shared/storage/db"
	"esign-backend/internal/shared/telemetry"
)

// Action is one of the closed set of workflow actions.
type Action string

const (
	ActionNotifyRecipient  Action = "notify_recipient"
	ActionNotifySender     Action = "notify_sender"
	ActionWebhookCall      Action = "webhook_call"
	ActionScheduleReminder Action = "schedule_reminder"
)

// Trigger names the lifecycle moment that fired an action.
type Trigger string

const (
	TriggerOnSend     Trigger = "on_send"
	TriggerOnComplete Trigger = "on_complete"
	TriggerOnDecline  Trigger = "on_decline"
	TriggerOnExpire   Trigger = "on_expire"
	TriggerReminder   Trigger = "reminder"
)

const messageVersion = 1

// Engine dispatches workflow actions on envelope lifecycle transitions.
// Dispatch is fire-and-forget: queue failures are logged and never surface
// to the transaction that triggered them.
type Engine struct {
	Queue  queue.Client
	Audit  audit.Repo
	Runner db.Runner
}

func NewEngine(q queue.Client, auditRepo audit.Repo, runner db.Runner) *Engine {
	return &Engine{Queue: q, Audit: auditRepo, Runner: runner}
}

func (e *Engine) EnvelopeSent(ctx context.Context, env envelopes.Envelope, next []envelopes.Recipient) {
	for _, rec := range next {
		e.dispatch(ctx, env.ID, rec.ID, ActionNotifyRecipient, TriggerOnSend)
	}
	e.dispatch(ctx, env.ID, "", ActionNotifySender, TriggerOnSend)
	if env.ReminderCadence != envelopes.ReminderNone && env.ReminderCadence != "" {
		e.dispatch(ctx, env.ID, "", ActionScheduleReminder, TriggerOnSend)
	}
}

// RecipientTurn fires when routing activates the next slot. Activation is
// that recipient's send moment, so it reuses on_send rather than widening
// the closed trigger set.
func (e *Engine) RecipientTurn(ctx context.Context, env envelopes.Envelope, next []envelopes.Recipient) {
	for _, rec := range next {
		e.dispatch(ctx, env.ID, rec.ID, ActionNotifyRecipient, TriggerOnSend)
	}
}

func (e *Engine) EnvelopeCompleted(ctx context.Context, env envelopes.Envelope) {
	e.dispatch(ctx, env.ID, "", ActionNotifySender, TriggerOnComplete)
	e.dispatch(ctx, env.ID, "", ActionWebhookCall, TriggerOnComplete)
}

func (e *Engine) RecipientDeclined(ctx context.Context, env envelopes.Envelope, rec envelopes.Recipient) {
	e.dispatch(ctx, env.ID, rec.ID, ActionNotifySender, TriggerOnDecline)
}

func (e *Engine) EnvelopeExpired(ctx context.Context, env envelopes.Envelope) {
	e.dispatch(ctx, env.ID, "", ActionNotifySender, TriggerOnExpire)
}

// dispatch enqueues one action and records a workflow_executed audit event.
// Both steps are best-effort.
func (e *Engine) dispatch(ctx context.Context, envelopeID, recipientID string, action Action, trigger Trigger) {
	msg := queue.Message{
		EnvelopeID:  envelopeID,
		RecipientID: recipientID,
		Action:      string(action),
		Trigger:     string(trigger),
		EnqueuedAt:  time.Now().UTC().Format(time.RFC3339),
		Version:     messageVersion,
	}
	if err := e.Queue.Send(ctx, msg); err != nil {
		telemetry.Error("workflow dispatch failed", map[string]any{
			"envelope_id": envelopeID,
			"action":      action,
			"trigger":     trigger,
			"error":       err.Error(),
		})
		return
	}

	metadata := map[string]any{"action": string(action), "trigger": string(trigger)}
	if recipientID != "" {
		metadata["recipient_id"] = recipientID
	}
	err := e.Runner.InTx(ctx, envelopeID, func(ctx context.Context) error {
		_, err := e.Audit.Append(ctx, audit.Entry{
			EnvelopeID: envelopeID,
			Type:       audit.EventWorkflowExecuted,
			Category:   "workflow",
			ActorType:  audit.ActorSystem,
			Metadata:   metadata,
		})
		return err
	})
	if err != nil {
		telemetry.Error("workflow audit append failed", map[string]any{
			"envelope_id": envelopeID,
			"action":      action,
			"error":       err.Error(),
		})
	}
}

var _ envelopes.Hooks = (*Engine)(nil)
