package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContactState enumerates lifecycle states of a survey contact.
type ContactState string

const (
	ContactStatePending    ContactState = "pending"
	ContactStateInProgress ContactState = "in_progress"
	ContactStateCompleted  ContactState = "completed"
	ContactStateRefused    ContactState = "refused"
	ContactStateNotReached ContactState = "not_reached"
	ContactStateExcluded   ContactState = "excluded"
)

// Terminal reports whether the contact will never be scheduled again.
func (s ContactState) Terminal() bool {
	switch s {
	case ContactStateCompleted, ContactStateRefused, ContactStateNotReached, ContactStateExcluded:
		return true
	}
	return false
}

// PreferredLanguage values accepted on import.
const (
	LanguageEnglish = "en"
	LanguageItalian = "it"
	LanguageAuto    = "auto"
)

// Contact is a person to be surveyed within a campaign.
type Contact struct {
	ID                uuid.UUID
	CampaignID        uuid.UUID
	Phone             string
	Email             *string
	PreferredLanguage string
	HasPriorConsent   bool
	DoNotCall         bool
	State             ContactState
	AttemptsCount     int
	LastAttemptAt     *time.Time
	LastOutcome       *CallOutcome
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExclusionSource records how an exclusion entry was added.
type ExclusionSource string

const (
	ExclusionSourceImport ExclusionSource = "import"
	ExclusionSourceAPI    ExclusionSource = "api"
	ExclusionSourceManual ExclusionSource = "manual"
)

// ExclusionEntry is an append-only do-not-call record.
type ExclusionEntry struct {
	Phone     string
	Reason    string
	Source    ExclusionSource
	CreatedAt time.Time
}
