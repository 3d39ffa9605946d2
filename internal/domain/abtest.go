package domain

import "time"

// ABTestStatus is the lifecycle state of an ABTest.
type ABTestStatus string

const (
	ABTestDraft     ABTestStatus = "draft"
	ABTestRunning   ABTestStatus = "running"
	ABTestCompleted ABTestStatus = "completed"
)

// Variant identifies the control (A) or treatment (B) side of a test.
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// ABTest is a versioned rule experiment: two variant version strings, a
// deterministic traffic split, and the bookkeeping needed to report
// statistical significance once enough samples are in.
type ABTest struct {
	TestID          string       `json:"testId"`
	RuleID          string       `json:"ruleId"`
	VariantAVersion string       `json:"variantAVersion"`
	VariantBVersion string       `json:"variantBVersion"`
	SplitA          float64      `json:"splitA"`
	SplitB          float64      `json:"splitB"`
	Status          ABTestStatus `json:"status"`
	StartTime       *time.Time   `json:"startTime,omitempty"`
	EndTime         *time.Time   `json:"endTime,omitempty"`
	MinSampleSize   int          `json:"minSampleSize"`
	ConfidenceLevel float64      `json:"confidenceLevel"`
	WinningVariant  *Variant     `json:"winningVariant,omitempty"`
}

// TestAssignment is an immutable (test_id, assignment_key) -> variant
// mapping, plus execution counters that update in place.
type TestAssignment struct {
	TestID         string    `json:"testId"`
	AssignmentKey  string    `json:"assignmentKey"`
	Variant        Variant   `json:"variant"`
	AssignedAt     time.Time `json:"assignedAt"`
	Successes      int64     `json:"successes"`
	Failures       int64     `json:"failures"`
}

// SignificanceReport is the result of a chi-square test over a 2x2
// contingency table of per-variant successes/failures.
type SignificanceReport struct {
	ChiSquare       float64 `json:"chiSquare"`
	PValue          float64 `json:"pValue"`
	Significant     bool    `json:"significant"`
	SampleSizeMet   bool    `json:"sampleSizeMet"`
	VariantACount   int64   `json:"variantACount"`
	VariantBCount   int64   `json:"variantBCount"`
}
