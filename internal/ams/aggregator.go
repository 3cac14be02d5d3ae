package ams

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/internal/storage/models"
	"github.com/thera-pipeline/matcher/pkg/logger"
)

// EventSource provides the day's match events.
type EventSource interface {
	EventsForDay(ctx context.Context, day string) ([]models.MatchEvent, error)
}

// RecordSink persists the day's aggregates, replacing any previous run.
type RecordSink interface {
	ReplaceAMSDay(ctx context.Context, overall models.AMSOverall, challenges []models.AMSChallenge) error
}

// Aggregator computes the daily Average Match Score rollup: per-challenge
// stats over each challenge's top shortlist, plus a day-level summary.
type Aggregator struct {
	events        EventSource
	sink          RecordSink
	shortlistSize int
}

func NewAggregator(events EventSource, sink RecordSink, shortlistSize int) *Aggregator {
	if shortlistSize <= 0 {
		shortlistSize = 10
	}
	return &Aggregator{
		events:        events,
		sink:          sink,
		shortlistSize: shortlistSize,
	}
}

// Run aggregates one UTC day (YYYY-MM-DD) and overwrites its stored records.
// Safe to re-run for any past day.
func (a *Aggregator) Run(ctx context.Context, day string) (*models.AMSOverall, error) {
	events, err := a.events.EventsForDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for %s: %w", day, err)
	}

	overall, challenges := a.Aggregate(day, events)

	if err := a.sink.ReplaceAMSDay(ctx, overall, challenges); err != nil {
		return nil, fmt.Errorf("failed to persist AMS day %s: %w", day, err)
	}

	logger.Info("AMS aggregation complete",
		zap.String("date", day),
		zap.Int("challenges", overall.TotalChallenges),
		zap.Float64("avg_ams_challenge", overall.AvgAMSChallenge),
	)

	return &overall, nil
}

// Aggregate is the pure computation. A day with zero events yields a valid
// zero-challenge record.
func (a *Aggregator) Aggregate(day string, events []models.MatchEvent) (models.AMSOverall, []models.AMSChallenge) {
	now := time.Now().UTC()

	byChallenge := make(map[string][]models.MatchEvent)
	for _, e := range events {
		byChallenge[e.ChallengeID] = append(byChallenge[e.ChallengeID], e)
	}

	challengeIDs := make([]string, 0, len(byChallenge))
	for id := range byChallenge {
		challengeIDs = append(challengeIDs, id)
	}
	sort.Strings(challengeIDs)

	var challenges []models.AMSChallenge
	var sumAMS, sumSim, sumML float64
	var totalShortlists int

	for _, id := range challengeIDs {
		shortlist := topShortlist(byChallenge[id], a.shortlistSize)
		record := challengeRecord(day, id, shortlist, now)
		challenges = append(challenges, record)

		sumAMS += record.AMSChallenge
		sumSim += record.AvgEmbeddingSim
		sumML += record.AvgMLScore
		totalShortlists += record.ShortlistSize
	}

	overall := models.AMSOverall{
		Date:            day,
		TotalChallenges: len(challenges),
		TotalShortlists: totalShortlists,
		ComputedAt:      now,
	}
	if len(challenges) > 0 {
		n := float64(len(challenges))
		overall.AvgAMSChallenge = sumAMS / n
		overall.AvgEmbeddingSim = sumSim / n
		overall.AvgMLScore = sumML / n
	}

	return overall, challenges
}

// topShortlist returns the top-N events by final score, ties broken by
// ascending company key. Fewer than N events means the whole set.
func topShortlist(events []models.MatchEvent, n int) []models.MatchEvent {
	sorted := append([]models.MatchEvent(nil), events...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].FinalScore != sorted[j].FinalScore {
			return sorted[i].FinalScore > sorted[j].FinalScore
		}
		return sorted[i].CompanyKey < sorted[j].CompanyKey
	})

	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func challengeRecord(day, challengeID string, shortlist []models.MatchEvent, now time.Time) models.AMSChallenge {
	record := models.AMSChallenge{
		Date:          day,
		ChallengeID:   challengeID,
		ShortlistSize: len(shortlist),
		ComputedAt:    now,
	}
	if len(shortlist) == 0 {
		return record
	}

	n := float64(len(shortlist))
	var sumFinal, sumSim, sumML float64
	record.TopScore = shortlist[0].FinalScore
	record.MinScore = shortlist[0].FinalScore

	for _, e := range shortlist {
		sumFinal += e.FinalScore
		sumSim += e.EmbeddingSimilarity
		sumML += e.MLScore
		if e.FinalScore > record.TopScore {
			record.TopScore = e.FinalScore
		}
		if e.FinalScore < record.MinScore {
			record.MinScore = e.FinalScore
		}
	}

	record.AMSChallenge = sumFinal / n
	record.AvgEmbeddingSim = sumSim / n
	record.AvgMLScore = sumML / n

	var sumSq float64
	for _, e := range shortlist {
		d := e.FinalScore - record.AMSChallenge
		sumSq += d * d
	}
	record.ScoreStd = math.Sqrt(sumSq / n)

	return record
}
