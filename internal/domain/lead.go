package domain

import (
	"time"
)

// LeadKind distinguishes the two lead-capture forms.
type LeadKind string

const (
	LeadContact  LeadKind = "contact"
	LeadTraining LeadKind = "training"
)

// Lead is a contact or training-enrollment request from the public site.
type Lead struct {
	LeadID    string    `json:"lead_id"`
	Kind      LeadKind  `json:"kind"`
	Program   string    `json:"program,omitempty"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Message   string    `json:"message,omitempty"`
	VisitorID string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
