package envelopes

import "time"

// Status is the envelope lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusSent       Status = "sent"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusVoided     Status = "voided"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusVoided, StatusExpired:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusDraft:      {StatusSent, StatusVoided},
	StatusSent:       {StatusInProgress, StatusVoided, StatusExpired},
	StatusInProgress: {StatusCompleted, StatusVoided, StatusExpired},
}

// CanTransition reports whether from→to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority of an envelope.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ReminderCadence controls automatic reminder frequency.
type ReminderCadence string

const (
	ReminderNone   ReminderCadence = "none"
	ReminderDaily  ReminderCadence = "daily"
	ReminderWeekly ReminderCadence = "weekly"
)

func (r ReminderCadence) Valid() bool {
	switch r {
	case ReminderNone, ReminderDaily, ReminderWeekly:
		return true
	}
	return false
}

// Envelope is the aggregate root binding documents, recipients, and fields.
// Once sent, the recipient list, document set, and field layout are frozen.
type Envelope struct {
	ID              string
	Seq             int64
	SenderID        string
	Title           string
	Subject         string
	Message         string
	Priority        Priority
	Status          Status
	ReminderCadence ReminderCadence
	Metadata        map[string]any
	VoidReason      string
	ExpiresAt       *time.Time
	SentAt          *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RecipientRole determines how a recipient participates.
type RecipientRole string

const (
	RoleSigner     RecipientRole = "signer"
	RoleApprover   RecipientRole = "approver"
	RoleViewer     RecipientRole = "viewer"
	RoleFormFiller RecipientRole = "form_filler"
)

func (r RecipientRole) Valid() bool {
	switch r {
	case RoleSigner, RoleApprover, RoleViewer, RoleFormFiller:
		return true
	}
	return false
}

// CountsTowardCompletion reports whether this role must sign before the
// envelope completes. Approvers count alongside signers.
func (r RecipientRole) CountsTowardCompletion() bool {
	return r == RoleSigner || r == RoleApprover
}

// RecipientStatus is the per-recipient progress state.
type RecipientStatus string

const (
	RecipientPending  RecipientStatus = "pending"
	RecipientSent     RecipientStatus = "sent"
	RecipientViewed   RecipientStatus = "viewed"
	RecipientSigned   RecipientStatus = "signed"
	RecipientDeclined RecipientStatus = "declined"
)

// Blocking reports whether this status still blocks later routing orders.
func (s RecipientStatus) Blocking() bool {
	switch s {
	case RecipientPending, RecipientSent, RecipientViewed:
		return true
	}
	return false
}

// AuthMethod is how a recipient proves identity before signing.
type AuthMethod string

const (
	AuthEmail      AuthMethod = "email"
	AuthAccessCode AuthMethod = "access_code"
	AuthSMS        AuthMethod = "sms"
	AuthID         AuthMethod = "id"
)

func (a AuthMethod) Valid() bool {
	switch a {
	case AuthEmail, AuthAccessCode, AuthSMS, AuthID:
		return true
	}
	return false
}

// Recipient is an envelope-scoped participant. Email is unique per envelope
// (case-insensitive); equal routing orders execute in parallel.
type Recipient struct {
	ID              string
	EnvelopeID      string
	Email           string
	Name            string
	Role            RecipientRole
	RoutingOrder    int
	Permissions     map[string]any
	AuthMethod      AuthMethod
	Message         string
	ReminderEnabled bool
	Status          RecipientStatus
	AccessToken     string
	TokenExpiresAt  *time.Time
	ViewedAt        *time.Time
	SignedAt        *time.Time
	DeclinedAt      *time.Time
	DeclineReason   string
	CreatedAt       time.Time
}

// FieldType is the closed set of capture types.
type FieldType string

const (
	FieldSignature FieldType = "signature"
	FieldInitial   FieldType = "initial"
	FieldText      FieldType = "text"
	FieldDate      FieldType = "date"
	FieldCheckbox  FieldType = "checkbox"
	FieldDropdown  FieldType = "dropdown"
	FieldNumber    FieldType = "number"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldSignature, FieldInitial, FieldText, FieldDate, FieldCheckbox, FieldDropdown, FieldNumber:
		return true
	}
	return false
}

// Field is a positioned capture on one page of one document, assigned to
// exactly one recipient. Geometry is normalised to [0,1].
type Field struct {
	ID           string
	EnvelopeID   string
	DocumentID   string
	RecipientID  string
	Type         FieldType
	Page         int
	X            float64
	Y            float64
	Width        float64
	Height       float64
	Required     bool
	Value        string
	DefaultValue string
	Validation   map[string]any
	SignedAt     *time.Time
	CreatedAt    time.Time
}

// GeometryValid checks page and normalised bounds.
func (f Field) GeometryValid() bool {
	if f.Page < 1 {
		return false
	}
	for _, v := range []float64{f.X, f.Y, f.Width, f.Height} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}
