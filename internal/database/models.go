package database

import "time"

// Pass is one recorded aggregation pass.
type Pass struct {
	ID           string
	CacheKey     string
	Region       string
	StartedAt    time.Time
	FinishedAt   time.Time
	ArticleCount int
	Forced       bool
	Sources      []PassSource
}

// Duration is the wall time of the pass.
func (p Pass) Duration() time.Duration {
	return p.FinishedAt.Sub(p.StartedAt)
}

// PassSource is one source's outcome within a pass.
type PassSource struct {
	SourceKey string
	Name      string
	Status    string
	Count     int
	Error     string
}

// SourceHealth summarizes a source's outcomes across recorded passes.
type SourceHealth struct {
	SourceKey  string
	Name       string
	Passes     int
	Failures   int
	Articles   int
	LastStatus string
	LastError  string
	LastSeen   time.Time
}

// FailureRate is the share of passes in which the source failed.
func (h SourceHealth) FailureRate() float64 {
	if h.Passes == 0 {
		return 0
	}
	return float64(h.Failures) / float64(h.Passes)
}
