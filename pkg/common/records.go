package common

import (
	"errors"
	"time"
)

// EmploymentRecord is one employment interval [Start, End) of a person at a
// company. A nil End means the employment is ongoing.
type EmploymentRecord struct {
	PersonID  string     `json:"person_id"`
	CompanyID string     `json:"company_id"`
	Start     time.Time  `json:"start_date"`
	End       *time.Time `json:"end_date,omitempty"`
}

// Validate rejects records that cannot produce a meaningful interval.
func (r EmploymentRecord) Validate() error {
	if r.PersonID == "" {
		return errors.New("employment record without person id")
	}
	if r.CompanyID == "" {
		return errors.New("employment record without company id")
	}
	if r.Start.IsZero() {
		return errors.New("employment record without start date")
	}
	if r.End != nil && r.End.Before(r.Start) {
		return errors.New("employment record ends before it starts")
	}
	return nil
}

// ContributionRecord summarises a person's contributions to one repository.
type ContributionRecord struct {
	PersonID          string    `json:"person_id"`
	RepositoryID      string    `json:"repository_id"`
	ContributionCount int64     `json:"contribution_count"`
	LastActivity      time.Time `json:"last_activity_date"`
}

func (r ContributionRecord) Validate() error {
	if r.PersonID == "" {
		return errors.New("contribution record without person id")
	}
	if r.RepositoryID == "" {
		return errors.New("contribution record without repository id")
	}
	if r.ContributionCount < 0 {
		return errors.New("contribution record with negative count")
	}
	return nil
}

// RepositorySignals are the observable inputs of repository importance.
// Contributors and LastActivity are derived from contribution records.
type RepositorySignals struct {
	RepositoryID    string     `json:"repository_id"`
	Stars           int64      `json:"stars"`
	Forks           int64      `json:"forks"`
	PrimaryLanguage string     `json:"primary_language,omitempty"`
	Contributors    int64      `json:"contributors"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
}

// DeveloperSignals are the observable inputs of developer importance and of
// the person feature vector.
type DeveloperSignals struct {
	PersonID            string             `json:"person_id"`
	Followers           int64              `json:"followers"`
	MergedContributions int64              `json:"merged_contributions"`
	RepositoryBreadth   int64              `json:"repository_breadth"`
	TenureYears         float64            `json:"tenure_years"`
	Skills              map[string]float64 `json:"skills,omitempty"`
}
