// Package abtest implements deterministic hash-based A/B variant assignment
// and chi-square significance reporting over rule experiments (spec.md
// §4.6).
package abtest

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
)

// hashModulus is the resolution of the deterministic split: h/10000 is
// compared against split_A (spec.md §4.6).
const hashModulus = 10000

// Manager assigns traffic to A/B variants and reports on significance.
type Manager struct {
	repo domain.Repository
	bus  domain.EventBus
}

// New builds a Manager.
func New(repo domain.Repository, bus domain.EventBus) *Manager {
	return &Manager{repo: repo, bus: bus}
}

// Assign resolves the variant for (testID, assignmentKey): reuses a
// previously persisted assignment if one exists, otherwise computes one
// deterministically and persists it. Only a `running` test assigns; draft
// and completed tests return ("", false).
func (m *Manager) Assign(ctx context.Context, testID, assignmentKey string) (domain.Variant, bool, error) {
	test, err := m.repo.GetABTest(ctx, testID)
	if err != nil {
		return "", false, &coreerrors.StorageError{Op: "GetABTest", Message: "test not found", Cause: err}
	}

	if test.Status != domain.ABTestRunning {
		return "", false, nil
	}

	if existing, err := m.repo.GetAssignment(ctx, testID, assignmentKey); err == nil && existing != nil {
		return existing.Variant, true, nil
	}

	variant := computeVariant(testID, assignmentKey, test.SplitA)

	assignment := &domain.TestAssignment{
		TestID:        testID,
		AssignmentKey: assignmentKey,
		Variant:       variant,
	}

	persisted, err := m.repo.UpsertAssignment(ctx, assignment)
	if err != nil {
		return "", false, &coreerrors.StorageError{Op: "UpsertAssignment", Message: "failed to persist assignment", Cause: err}
	}

	if m.bus != nil {
		m.publishAssigned(ctx, testID, assignmentKey, persisted.Variant)
	}

	return persisted.Variant, true, nil
}

func (m *Manager) publishAssigned(ctx context.Context, testID, assignmentKey string, variant domain.Variant) {
	payload := []byte(fmt.Sprintf(`{"testId":%q,"assignmentKey":%q,"variant":%q}`, testID, assignmentKey, variant))
	_ = m.bus.Publish(ctx, domain.TopicABTestAssigned, payload)
}

// computeVariant implements the deterministic hash(test_id||assignment_key)
// mod 10000 split exactly as spec.md §4.6 describes.
func computeVariant(testID, assignmentKey string, splitA float64) domain.Variant {
	h := xxhash.New()
	_, _ = h.WriteString(testID)
	_, _ = h.WriteString(assignmentKey)
	bucket := h.Sum64() % hashModulus

	if float64(bucket)/hashModulus < splitA {
		return domain.VariantA
	}
	return domain.VariantB
}

// RecordOutcome updates the per-variant success/failure counters for an
// assignment once an execution completes.
func (m *Manager) RecordOutcome(ctx context.Context, testID, assignmentKey string, success bool) error {
	if err := m.repo.IncrementAssignmentCounter(ctx, testID, assignmentKey, success); err != nil {
		return &coreerrors.StorageError{Op: "IncrementAssignmentCounter", Message: "failed to record outcome", Cause: err}
	}
	return nil
}

// Significance runs a chi-square test over the 2x2 contingency table of
// per-variant successes/failures and reports whether the result crosses
// 1 - confidence_level, plus whether both variants have reached
// min_sample_size assignments (spec.md §4.6).
func Significance(aSuccess, aFailure, bSuccess, bFailure int64, confidenceLevel float64, minSampleSize int) domain.SignificanceReport {
	aTotal := aSuccess + aFailure
	bTotal := bSuccess + bFailure

	report := domain.SignificanceReport{
		VariantACount: aTotal,
		VariantBCount: bTotal,
		SampleSizeMet: aTotal >= int64(minSampleSize) && bTotal >= int64(minSampleSize),
	}

	chiSquare := chiSquareStatistic(aSuccess, aFailure, bSuccess, bFailure)
	report.ChiSquare = chiSquare

	// A 2x2 contingency table has 1 degree of freedom.
	dist := distuv.ChiSquared{K: 1}
	report.PValue = 1 - dist.CDF(chiSquare)
	report.Significant = report.PValue < (1 - confidenceLevel)

	return report
}

// chiSquareStatistic computes Pearson's chi-square statistic for a 2x2
// contingency table:
//
//	           success   failure
//	variant A     a         b
//	variant B     c         d
func chiSquareStatistic(a, b, c, d int64) float64 {
	n := float64(a + b + c + d)
	if n == 0 {
		return 0
	}

	af, bf, cf, df := float64(a), float64(b), float64(c), float64(d)
	numerator := n * (af*df - bf*cf) * (af*df - bf*cf)
	denominator := (af + bf) * (cf + df) * (af + cf) * (bf + df)
	if denominator == 0 {
		return 0
	}

	return numerator / denominator
}
