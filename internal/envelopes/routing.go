package envelopes

// NextRecipients returns the recipients whose turn it is: those with a
// non-terminal status and no recipient at a strictly lower routing order
// still blocking. Recipients sharing a routing order act in parallel.
func NextRecipients(recs []Recipient) []Recipient {
	lowest := 0
	for _, rec := range recs {
		if !rec.Status.Blocking() {
			continue
		}
		if lowest == 0 || rec.RoutingOrder < lowest {
			lowest = rec.RoutingOrder
		}
	}
	if lowest == 0 {
		return nil
	}
	var out []Recipient
	for _, rec := range recs {
		if rec.Status.Blocking() && rec.RoutingOrder == lowest {
			out = append(out, rec)
		}
	}
	return out
}

// IsTurn reports whether the given recipient may act now.
func IsTurn(recs []Recipient, recipientID string) bool {
	for _, rec := range NextRecipients(recs) {
		if rec.ID == recipientID {
			return true
		}
	}
	return false
}

// AllRequiredSigned reports whether every recipient whose role counts toward
// completion has signed. Viewers and form fillers never gate completion.
func AllRequiredSigned(recs []Recipient) bool {
	for _, rec := range recs {
		if rec.Role.CountsTowardCompletion() && rec.Status != RecipientSigned {
			return false
		}
	}
	return true
}

// Progress summarises envelope completion.
type Progress struct {
	TotalRequiredFields     int `json:"totalRequiredFields"`
	CompletedRequiredFields int `json:"completedRequiredFields"`
	OverallPercent          int `json:"overallPercent"`
	RecipientsSigned        int `json:"recipientsSigned"`
	RecipientsTotal         int `json:"recipientsTotal"`
}

// ComputeProgress derives progress from the field and recipient sets. An
// envelope with no required fields counts as 100%.
func ComputeProgress(recs []Recipient, fields []Field) Progress {
	p := Progress{RecipientsTotal: len(recs)}
	for _, rec := range recs {
		if rec.Status == RecipientSigned {
			p.RecipientsSigned++
		}
	}
	for _, f := range fields {
		if !f.Required {
			continue
		}
		p.TotalRequiredFields++
		if f.Value != "" {
			p.CompletedRequiredFields++
		}
	}
	if p.TotalRequiredFields == 0 {
		p.OverallPercent = 100
	} else {
		p.OverallPercent = p.CompletedRequiredFields * 100 / p.TotalRequiredFields
	}
	return p
}
