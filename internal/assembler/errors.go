package assembler

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is returned when every configured source failed.
	ErrSourceUnavailable = errors.New("all context sources unavailable")

	// ErrLowQualityContext is returned when the composed relevance score is
	// below the quality threshold.
	ErrLowQualityContext = errors.New("low quality context")
)

// SourceError wraps the failure of a single context source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("context source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// LowQualityContextError reports the score that failed the quality gate.
type LowQualityContextError struct {
	Score     float64
	Threshold float64
}

func (e *LowQualityContextError) Error() string {
	return fmt.Sprintf("%s: score %.3f below threshold %.3f", ErrLowQualityContext, e.Score, e.Threshold)
}

func (e *LowQualityContextError) Unwrap() error { return ErrLowQualityContext }
