package models

import "time"

// CandidateProfile is one row of the gold profile catalog. It is owned by the
// upstream enrichment pipeline; the matching engine only reads it.
type CandidateProfile struct {
	CompanyKey           string
	CompanyName          string
	Industry             string
	Country              string
	ApolloScore          float64
	DomainHealthScore    float64
	ContentRichnessScore float64
	ProfileText          string
	ContentHash          string
	UpdatedAt            time.Time
}

// MatchQuery is a single free-text challenge with optional structured filters.
type MatchQuery struct {
	QueryText string
	Industry  string
	Country   string
}

// MatchEvent is the append-only audit record written once per
// (challenge, candidate) pair per scoring run. Corrections are new events.
type MatchEvent struct {
	EventID             string
	ChallengeID         string
	CompanyKey          string
	EmbeddingSimilarity float64
	IndustryGeoScore    float64
	ApolloScore         float64
	MLScore             float64
	FinalScore          float64
	RuleFeatures        map[string]float64
	Reason              string
	EventTimestamp      time.Time
}

// Outcome is the training label source, keyed by (challenge, candidate).
// Written by the upstream CRM sync, read by the weekly trainer.
type Outcome struct {
	ChallengeID string
	CompanyKey  string
	Contacted   bool
	ContactedAt time.Time
}

// AMSOverall is the per-day aggregate metric record. Recomputing a day
// replaces the existing row.
type AMSOverall struct {
	Date            string
	TotalChallenges int
	TotalShortlists int
	AvgAMSChallenge float64
	AvgEmbeddingSim float64
	AvgMLScore      float64
	ComputedAt      time.Time
}

// AMSChallenge is the per-(day, challenge) aggregate over that challenge's
// top-10 shortlist.
type AMSChallenge struct {
	Date            string
	ChallengeID     string
	ShortlistSize   int
	AMSChallenge    float64
	AvgEmbeddingSim float64
	AvgMLScore      float64
	TopScore        float64
	MinScore        float64
	ScoreStd        float64
	ComputedAt      time.Time
}

// ProfileFilter narrows a catalog query. Zero values mean "no filter".
type ProfileFilter struct {
	Industry string
	Country  string
}

// TrainingRow is a match event joined with its outcome label.
type TrainingRow struct {
	Event     MatchEvent
	Candidate CandidateProfile
	Label     int
}
