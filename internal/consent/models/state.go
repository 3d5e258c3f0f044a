package models

import (
	"time"

	id "consentledger/pkg/domain"
)

// State is the derived consent for one subject and purpose.
type State struct {
	SubjectID      id.SubjectID `json:"subject_id"`
	PurposeID      id.PurposeID `json:"purpose_id"`
	Granted        bool         `json:"granted"`
	AtVersion      int          `json:"at_version"`
	Stale          bool         `json:"stale"`
	CurrentVersion int          `json:"current_version"`
	DecidedAt      *time.Time   `json:"decided_at,omitempty"`
}

// ProjectState derives the state from the latest event. No event means
// default-deny at version 0. An event recorded under an older version than
// currentVersion is stale and never counts as granted.
func ProjectState(subject id.SubjectID, purpose id.PurposeID, latest *Event, currentVersion int) *State {
	state := &State{
		SubjectID:      subject,
		PurposeID:      purpose,
		CurrentVersion: currentVersion,
	}
	if latest == nil {
		return state
	}
	decidedAt := latest.Timestamp
	state.AtVersion = latest.PurposeVersion
	state.DecidedAt = &decidedAt
	state.Stale = latest.PurposeVersion < currentVersion
	state.Granted = latest.Granted && !state.Stale
	return state
}

// Satisfied reports whether the state lets the subject proceed.
func (s *State) Satisfied() bool {
	return s.Granted && !s.Stale
}

// Explanation is a state plus the version changes that made it stale.
type Explanation struct {
	State   *State          `json:"state"`
	Changes []VersionChange `json:"changes,omitempty"`
}

// GateResult is the outcome of the gating check.
type GateResult struct {
	Blocking    bool           `json:"blocking"`
	Outstanding []id.PurposeID `json:"outstanding"`
}
