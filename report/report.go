// Package report turns the cached ledgers into a lottery factor and YOLO
// coder summary. It only reads from the store.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lotteryfactor/db"
	"lotteryfactor/logger"
	"lotteryfactor/models"
)

// Risk is the lottery factor rating.
type Risk string

const (
	RiskNone     Risk = "None"
	RiskLow      Risk = "Low"
	RiskModerate Risk = "Moderate"
	RiskHigh     Risk = "High"
)

// TopContributors is how many authors the concentration is measured over.
const TopContributors = 2

var (
	highThreshold     = decimal.NewFromInt(50)
	moderateThreshold = decimal.NewFromInt(25)
)

// Store is the read side of the ledgers.
type Store interface {
	GetRepository(ctx context.Context, owner, name string) (mo.Option[*models.Repository], error)
	GetContributors(ctx context.Context, owner, name string) ([]models.Contributor, error)
	GetYoloCoders(ctx context.Context, owner, name string, since time.Time) ([]models.YoloCoder, error)
}

// Report is the rendered summary for one repository.
type Report struct {
	Repository        string               `json:"repository"`
	Days              int                  `json:"days"`
	Since             time.Time            `json:"since"`
	GeneratedAt       time.Time            `json:"generated_at"`
	TotalPullRequests int                  `json:"total_pull_requests"`
	TopPercent        decimal.Decimal      `json:"top_contributors_percent"`
	LotteryFactor     Risk                 `json:"lottery_factor"`
	Contributors      []models.Contributor `json:"contributors"`
	YoloCoders        []models.YoloCoder   `json:"yolo_coders"`
}

// Builder assembles reports from the store.
type Builder struct {
	store Store
	now   func() time.Time
}

func NewBuilder(store Store) *Builder {
	return &Builder{store: store, now: time.Now}
}

// Build reads contributors and YOLO coders for owner/name and rates the
// lottery factor. An unknown repository yields db.ErrRepositoryNotFound.
func (b *Builder) Build(ctx context.Context, owner, name string, days int) (*Report, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive, got %d", db.ErrInvalidInput, days)
	}

	repo, err := b.store.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	if repo.IsAbsent() {
		return nil, fmt.Errorf("%w: %s/%s", db.ErrRepositoryNotFound, owner, name)
	}

	now := b.now().UTC()
	since := models.Window(now, days)

	var contributors []models.Contributor
	var yoloCoders []models.YoloCoder

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		contributors, err = b.store.GetContributors(egCtx, owner, name)
		return err
	})
	eg.Go(func() error {
		var err error
		yoloCoders, err = b.store.GetYoloCoders(egCtx, owner, name, since)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read ledgers for %s/%s: %w", owner, name, err)
	}

	total, percent, err := Concentration(contributors)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Repository:        owner + "/" + name,
		Days:              days,
		Since:             since,
		GeneratedAt:       now,
		TotalPullRequests: total,
		TopPercent:        percent,
		LotteryFactor:     Rate(total, percent),
		Contributors:      contributors,
		YoloCoders:        yoloCoders,
	}

	logger.Debug("Built report",
		zap.String("repository", r.Repository),
		zap.Int("total_pull_requests", total),
		zap.String("top_percent", percent.String()),
		zap.String("lottery_factor", string(r.LotteryFactor)))
	return r, nil
}

// Concentration returns the total pull request count and the share, in
// percent rounded to one decimal, held by the top contributors. The input
// must already be sorted busiest first.
func Concentration(contributors []models.Contributor) (int, decimal.Decimal, error) {
	if len(contributors) == 0 {
		return 0, decimal.Zero, nil
	}

	counts := make(stats.Float64Data, 0, len(contributors))
	for _, c := range contributors {
		counts = append(counts, float64(c.PRCount))
	}

	total, err := stats.Sum(counts)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("failed to sum contributions: %w", err)
	}
	if total == 0 {
		return 0, decimal.Zero, nil
	}

	top, err := stats.Sum(counts[:min(TopContributors, len(counts))])
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("failed to sum top contributions: %w", err)
	}

	percent := decimal.NewFromFloat(top).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromFloat(total)).
		Round(1)
	return int(total), percent, nil
}

// Rate maps a concentration onto a risk level.
func Rate(total int, percent decimal.Decimal) Risk {
	switch {
	case total == 0:
		return RiskNone
	case percent.GreaterThanOrEqual(highThreshold):
		return RiskHigh
	case percent.GreaterThanOrEqual(moderateThreshold):
		return RiskModerate
	default:
		return RiskLow
	}
}
