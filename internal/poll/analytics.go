package poll

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sujalbistaa/pollwave/internal/apperr"
	"github.com/sujalbistaa/pollwave/internal/models"
	"github.com/sujalbistaa/pollwave/internal/notify"
)

// Recorder receives ledger and aggregator outcomes, typically to export
// them as metrics.
type Recorder interface {
	VoteAccepted(kind IdentityKind)
	VoteRejected(kind apperr.Kind)
	AnalyticsRepaired()
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) VoteAccepted(IdentityKind) {}
func (NopRecorder) VoteRejected(apperr.Kind)  {}
func (NopRecorder) AnalyticsRepaired()        {}

// Aggregator maintains the per-poll analytics cache. Counters only move
// through atomic SQL increments, and Recompute rebuilds them from the vote
// ledger whenever they drift.
type Aggregator struct {
	db     *gorm.DB
	events notify.Publisher
	rec    Recorder
	log    *logrus.Entry

	Now func() time.Time
}

func NewAggregator(db *gorm.DB, events notify.Publisher, rec Recorder, log *logrus.Entry) *Aggregator {
	return &Aggregator{db: db, events: events, rec: rec, log: log, Now: time.Now}
}

// RecordVote applies one accepted vote to the cached counters.
// unique_voters moves only for an authenticated voter's first vote.
func (a *Aggregator) RecordVote(ctx context.Context, v *models.Vote, firstForVoter bool) error {
	unique := 0
	if v.VoterID != nil && firstForVoter {
		unique = 1
	}

	res := a.db.WithContext(ctx).Model(&models.PollAnalytics{}).
		Where("poll_id = ?", v.PollID).
		Updates(map[string]any{
			"total_votes":   gorm.Expr("total_votes + ?", 1),
			"unique_voters": gorm.Expr("unique_voters + ?", unique),
			"last_updated":  v.CreatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// No analytics row: rebuild it from the ledger, which already
		// contains this vote.
		_, _, err := a.Recompute(ctx, v.PollID)
		return err
	}
	return nil
}

// RecordView counts one view of a poll.
func (a *Aggregator) RecordView(ctx context.Context, pollID string) error {
	return a.db.WithContext(ctx).Model(&models.PollAnalytics{}).
		Where("poll_id = ?", pollID).
		Update("total_views", gorm.Expr("total_views + ?", 1)).Error
}

func (a *Aggregator) totalVotesQuery(pollID string) *gorm.DB {
	return a.db.Model(&models.Vote{}).Select("COUNT(*)").Where("poll_id = ?", pollID)
}

func (a *Aggregator) uniqueVotersQuery(pollID string) *gorm.DB {
	return a.db.Model(&models.Vote{}).Select("COUNT(DISTINCT voter_id)").Where("poll_id = ?", pollID)
}

// Recompute brings the analytics row for pollID in line with the vote
// ledger and returns it. repaired reports whether the cache had drifted.
func (a *Aggregator) Recompute(ctx context.Context, pollID string) (row *models.PollAnalytics, repaired bool, err error) {
	db := a.db.WithContext(ctx)
	now := a.Now()

	// Compare and overwrite in one statement so a concurrent increment
	// cannot slip between the count and the write.
	res := db.Model(&models.PollAnalytics{}).
		Where("poll_id = ?", pollID).
		Where("(total_votes <> (?) OR unique_voters <> (?))", a.totalVotesQuery(pollID), a.uniqueVotersQuery(pollID)).
		Updates(map[string]any{
			"total_votes":   gorm.Expr("(?)", a.totalVotesQuery(pollID)),
			"unique_voters": gorm.Expr("(?)", a.uniqueVotersQuery(pollID)),
			"last_updated":  now,
		})
	if res.Error != nil {
		return nil, false, apperr.Store("Failed to recompute analytics", res.Error)
	}
	repaired = res.RowsAffected > 0

	row = &models.PollAnalytics{}
	err = db.Where("poll_id = ?", pollID).First(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row, err = a.recreate(ctx, pollID, now)
		repaired = err == nil
	}
	if err != nil {
		return nil, false, apperr.Store("Failed to recompute analytics", err)
	}

	if repaired {
		a.rec.AnalyticsRepaired()
		a.log.WithFields(logrus.Fields{
			"poll_id":       pollID,
			"total_votes":   row.TotalVotes,
			"unique_voters": row.UniqueVoters,
		}).Warn("analytics diverged from vote ledger, repaired")
		if err := a.events.Publish(ctx, notify.Event{Type: notify.AnalyticsUpdated, PollID: pollID, Data: row, At: now}); err != nil {
			a.log.WithError(err).Warn("failed to publish analytics event")
		}
	}
	return row, repaired, nil
}

func (a *Aggregator) recreate(ctx context.Context, pollID string, now time.Time) (*models.PollAnalytics, error) {
	db := a.db.WithContext(ctx)
	row := &models.PollAnalytics{PollID: pollID, LastUpdated: now}
	if err := a.totalVotesQuery(pollID).WithContext(ctx).Scan(&row.TotalVotes).Error; err != nil {
		return nil, err
	}
	if err := a.uniqueVotersQuery(pollID).WithContext(ctx).Scan(&row.UniqueVoters).Error; err != nil {
		return nil, err
	}
	if err := db.Create(row).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			// Someone else recreated it first.
			err = db.Where("poll_id = ?", pollID).First(row).Error
			return row, err
		}
		return nil, err
	}
	return row, nil
}

// ReconcileAll recomputes the analytics of every poll and returns how many
// rows were repaired.
func (a *Aggregator) ReconcileAll(ctx context.Context) (int, error) {
	var ids []string
	if err := a.db.WithContext(ctx).Model(&models.Poll{}).Pluck("id", &ids).Error; err != nil {
		return 0, apperr.Store("Failed to list polls", err)
	}

	repairedCount := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return repairedCount, err
		}
		_, repaired, err := a.Recompute(ctx, id)
		if err != nil {
			return repairedCount, err
		}
		if repaired {
			repairedCount++
		}
	}
	return repairedCount, nil
}

// Run reconciles every interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.ReconcileAll(ctx)
			if err != nil && ctx.Err() == nil {
				a.log.WithError(err).Error("analytics reconciliation failed")
				continue
			}
			a.log.WithField("repaired", n).Debug("analytics reconciliation finished")
		}
	}
}

// OptionResult is the live tally of one option.
type OptionResult struct {
	OptionID   string  `json:"optionId"`
	Text       string  `json:"text"`
	OrderIndex int     `json:"orderIndex"`
	Votes      int64   `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// Results is a live tally of a poll computed from the vote ledger.
type Results struct {
	PollID         string         `json:"pollId"`
	TotalVotes     int64          `json:"totalVotes"`
	UniqueVoters   int64          `json:"uniqueVoters"`
	AcceptingVotes bool           `json:"acceptingVotes"`
	Options        []OptionResult `json:"options"`
}

// Results tallies p from the ledger. p.Options must be loaded in display order.
func (a *Aggregator) Results(ctx context.Context, p *models.Poll) (*Results, error) {
	var rows []struct {
		OptionID string
		Votes    int64
	}
	err := a.db.WithContext(ctx).Model(&models.Vote{}).
		Select("option_id, COUNT(*) AS votes").
		Where("poll_id = ?", p.ID).
		Group("option_id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Store("Failed to load results", err)
	}

	var unique int64
	if err := a.uniqueVotersQuery(p.ID).WithContext(ctx).Scan(&unique).Error; err != nil {
		return nil, apperr.Store("Failed to load results", err)
	}

	byOption := make(map[string]int64, len(rows))
	for _, r := range rows {
		byOption[r.OptionID] = r.Votes
	}

	counts := make([]int64, len(p.Options))
	res := &Results{
		PollID:         p.ID,
		UniqueVoters:   unique,
		AcceptingVotes: IsEligibleForVoting(p, a.Now()),
		Options:        make([]OptionResult, len(p.Options)),
	}
	for i, o := range p.Options {
		counts[i] = byOption[o.ID]
		res.TotalVotes += counts[i]
		res.Options[i] = OptionResult{OptionID: o.ID, Text: o.Text, OrderIndex: o.OrderIndex, Votes: counts[i]}
	}
	for i, pct := range Percentages(counts) {
		res.Options[i].Percentage = pct
	}
	return res, nil
}

// Percentages converts vote counts to percentages of their sum, rounded to
// one decimal. A zero total yields zero for every option.
func Percentages(counts []int64) []float64 {
	out := make([]float64, len(counts))
	var total int64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return out
	}
	hundred := decimal.NewFromInt(100)
	t := decimal.NewFromInt(total)
	for i, c := range counts {
		out[i] = decimal.NewFromInt(c).Mul(hundred).Div(t).Round(1).InexactFloat64()
	}
	return out
}
