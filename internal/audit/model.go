package audit

import "time"

// EventType enumerates the closed set of audit event types.
type EventType string

const (
	EventEnvelopeCreated   EventType = "envelope_created"
	EventEnvelopeUpdated   EventType = "envelope_updated"
	EventRecipientAdded    EventType = "recipient_added"
	EventRecipientRemoved  EventType = "recipient_removed"
	EventDocumentAdded     EventType = "document_added"
	EventDocumentRemoved   EventType = "document_removed"
	EventFieldAdded        EventType = "field_added"
	EventFieldRemoved      EventType = "field_removed"
	EventFieldUpdated      EventType = "field_updated"
	EventEnvelopeSent      EventType = "envelope_sent"
	EventRecipientViewed   EventType = "recipient_viewed"
	EventRecipientSigned   EventType = "recipient_signed"
	EventRecipientDeclined EventType = "recipient_declined"
	EventEnvelopeCompleted EventType = "envelope_completed"
	EventEnvelopeVoided    EventType = "envelope_voided"
	EventEnvelopeExpired   EventType = "envelope_expired"
	EventReminderSent      EventType = "reminder_sent"
	EventWorkflowExecuted  EventType = "workflow_executed"
)

var validEventTypes = map[EventType]struct{}{
	EventEnvelopeCreated: {}, EventEnvelopeUpdated: {},
	EventRecipientAdded: {}, EventRecipientRemoved: {},
	EventDocumentAdded: {}, EventDocumentRemoved: {},
	EventFieldAdded: {}, EventFieldRemoved: {}, EventFieldUpdated: {},
	EventEnvelopeSent: {}, EventRecipientViewed: {}, EventRecipientSigned: {},
	EventRecipientDeclined: {}, EventEnvelopeCompleted: {},
	EventEnvelopeVoided: {}, EventEnvelopeExpired: {},
	EventReminderSent: {}, EventWorkflowExecuted: {},
}

// Valid reports whether t belongs to the closed event-type set.
func (t EventType) Valid() bool {
	_, ok := validEventTypes[t]
	return ok
}

// ActorType identifies who caused an event.
type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorSystem    ActorType = "system"
	ActorRecipient ActorType = "recipient"
)

// Event is one hash-chained audit record. Events are append-only and totally
// ordered per envelope by ID.
type Event struct {
	ID            int64
	EnvelopeID    string
	Type          EventType
	Category      string
	ActorType     ActorType
	ActorID       string
	Metadata      map[string]any
	IPAddress     string
	UserAgent     string
	PrevEventHash string
	EventHash     string
	CreatedAt     time.Time
}
