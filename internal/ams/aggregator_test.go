package ams

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thera-pipeline/matcher/internal/storage/models"
)

func event(challengeID, companyKey string, finalScore float64) models.MatchEvent {
	return models.MatchEvent{
		EventID:             challengeID + "-" + companyKey,
		ChallengeID:         challengeID,
		CompanyKey:          companyKey,
		FinalScore:          finalScore,
		EmbeddingSimilarity: finalScore,
		MLScore:             0.5,
	}
}

func newTestAggregator() *Aggregator {
	return NewAggregator(nil, nil, 10)
}

func TestAggregateShortlistMean(t *testing.T) {
	// Shortlist scores 0.90, 0.85, ..., 0.45: ten values with a known mean.
	var events []models.MatchEvent
	var sum float64
	for i := 0; i < 10; i++ {
		score := 0.90 - 0.05*float64(i)
		sum += score
		events = append(events, event("ch-1", fmt.Sprintf("company-%02d", i), score))
	}

	overall, challenges := newTestAggregator().Aggregate("2026-08-26", events)

	require.Len(t, challenges, 1)
	ch := challenges[0]
	assert.Equal(t, 10, ch.ShortlistSize)
	assert.InDelta(t, sum/10, ch.AMSChallenge, 1e-12)
	assert.InDelta(t, 0.90, ch.TopScore, 1e-12)
	assert.InDelta(t, 0.45, ch.MinScore, 1e-12)

	assert.Equal(t, 1, overall.TotalChallenges)
	assert.InDelta(t, ch.AMSChallenge, overall.AvgAMSChallenge, 1e-12)
}

func TestAggregateEleventhEventExcluded(t *testing.T) {
	var events []models.MatchEvent
	for i := 0; i < 10; i++ {
		events = append(events, event("ch-1", fmt.Sprintf("company-%02d", i), 0.90-0.05*float64(i)))
	}

	base, _ := newTestAggregator().Aggregate("2026-08-26", events)

	// An eleventh, lower-scoring event must not change the shortlist stats.
	events = append(events, event("ch-1", "company-10", 0.10))
	withExtra, challenges := newTestAggregator().Aggregate("2026-08-26", events)

	assert.Equal(t, base.AvgAMSChallenge, withExtra.AvgAMSChallenge)
	require.Len(t, challenges, 1)
	assert.Equal(t, 10, challenges[0].ShortlistSize)
	assert.InDelta(t, 0.45, challenges[0].MinScore, 1e-12)
}

func TestAggregateShortlistSmallerThanTen(t *testing.T) {
	events := []models.MatchEvent{
		event("ch-1", "a", 0.8),
		event("ch-1", "b", 0.6),
		event("ch-1", "c", 0.4),
	}

	_, challenges := newTestAggregator().Aggregate("2026-08-26", events)

	require.Len(t, challenges, 1)
	assert.Equal(t, 3, challenges[0].ShortlistSize)
	assert.InDelta(t, 0.6, challenges[0].AMSChallenge, 1e-12)
}

func TestAggregateScoreStd(t *testing.T) {
	events := []models.MatchEvent{
		event("ch-1", "a", 0.8),
		event("ch-1", "b", 0.6),
		event("ch-1", "c", 0.4),
	}

	_, challenges := newTestAggregator().Aggregate("2026-08-26", events)

	// Population standard deviation of {0.8, 0.6, 0.4}.
	mean := 0.6
	variance := (math.Pow(0.8-mean, 2) + math.Pow(0.6-mean, 2) + math.Pow(0.4-mean, 2)) / 3
	require.Len(t, challenges, 1)
	assert.InDelta(t, math.Sqrt(variance), challenges[0].ScoreStd, 1e-12)
}

func TestAggregateMultipleChallenges(t *testing.T) {
	events := []models.MatchEvent{
		event("ch-b", "a", 0.8),
		event("ch-a", "a", 0.4),
		event("ch-a", "b", 0.6),
	}

	overall, challenges := newTestAggregator().Aggregate("2026-08-26", events)

	require.Len(t, challenges, 2)
	assert.Equal(t, "ch-a", challenges[0].ChallengeID)
	assert.Equal(t, "ch-b", challenges[1].ChallengeID)

	assert.Equal(t, 2, overall.TotalChallenges)
	assert.Equal(t, 3, overall.TotalShortlists)
	assert.InDelta(t, (0.5+0.8)/2, overall.AvgAMSChallenge, 1e-12)
}

func TestAggregateZeroEventDay(t *testing.T) {
	overall, challenges := newTestAggregator().Aggregate("2026-08-26", nil)

	assert.Empty(t, challenges)
	assert.Equal(t, "2026-08-26", overall.Date)
	assert.Equal(t, 0, overall.TotalChallenges)
	assert.Equal(t, 0.0, overall.AvgAMSChallenge)
}

func TestAggregateDeterministicTieBreak(t *testing.T) {
	// Eleven events all tied: the shortlist keeps the ten lowest company
	// keys, in both runs.
	var events []models.MatchEvent
	for i := 10; i >= 0; i-- {
		events = append(events, event("ch-1", fmt.Sprintf("company-%02d", i), 0.5))
	}

	_, first := newTestAggregator().Aggregate("2026-08-26", events)
	_, second := newTestAggregator().Aggregate("2026-08-26", events)

	require.Len(t, first, 1)
	assert.Equal(t, first[0].AMSChallenge, second[0].AMSChallenge)
	assert.Equal(t, 10, first[0].ShortlistSize)
}

type fakeEvents struct {
	events []models.MatchEvent
}

func (f *fakeEvents) EventsForDay(_ context.Context, _ string) ([]models.MatchEvent, error) {
	return f.events, nil
}

type fakeSink struct {
	overall    []models.AMSOverall
	challenges [][]models.AMSChallenge
}

func (f *fakeSink) ReplaceAMSDay(_ context.Context, overall models.AMSOverall, challenges []models.AMSChallenge) error {
	f.overall = append(f.overall, overall)
	f.challenges = append(f.challenges, challenges)
	return nil
}

func TestRunIsIdempotent(t *testing.T) {
	events := &fakeEvents{events: []models.MatchEvent{
		event("ch-1", "a", 0.9),
		event("ch-1", "b", 0.7),
	}}
	sink := &fakeSink{}
	aggregator := NewAggregator(events, sink, 10)

	first, err := aggregator.Run(context.Background(), "2026-08-26")
	require.NoError(t, err)
	second, err := aggregator.Run(context.Background(), "2026-08-26")
	require.NoError(t, err)

	// Each run replaces the day wholesale with identical figures.
	require.Len(t, sink.overall, 2)
	assert.Equal(t, first.AvgAMSChallenge, second.AvgAMSChallenge)
	assert.Equal(t, sink.overall[0].AvgAMSChallenge, sink.overall[1].AvgAMSChallenge)
}
