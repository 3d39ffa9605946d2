package domain

import "time"

// BatchItemResult preserves the input index and carries either a success
// payload or a failure payload (spec.md §4.7).
type BatchItemResult struct {
	Index     int              `json:"index"`
	Success   bool             `json:"success"`
	Result    *ExecutionResult `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"errorType,omitempty"`
	Cancelled bool             `json:"cancelled,omitempty"`
}

// BatchResult is the summary returned by the Batch Executor.
type BatchResult struct {
	Total         int               `json:"total"`
	Successful    int               `json:"successful"`
	Failed        int               `json:"failed"`
	TotalDuration time.Duration     `json:"-"`
	TotalMs       int64             `json:"totalDurationMs"`
	AverageMs     float64           `json:"averageDurationMs"`
	SuccessRate   float64           `json:"successRate"`
	Results       []BatchItemResult `json:"results"`
}
