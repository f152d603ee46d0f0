package writer

import (
	"time"
)

// Ensure policies satisfy the interface.
var (
	_ SplitPolicy = SizePolicy{}
	_ SplitPolicy = DurationPolicy{}
	_ SplitPolicy = (*CompositePolicy)(nil)
)

// Split reasons reported in metrics and logs.
const (
	ReasonSize     = "size"
	ReasonDuration = "duration"
	ReasonManual   = "manual"
	ReasonSnapshot = "snapshot"
)

// FileStats describes the active bagfile at the time a split is considered.
type FileStats struct {
	// SizeBytes is the backend-reported bagfile size. Only populated when a size limit is set.
	SizeBytes uint64
	// MessageCount is the number of messages recorded into the active file.
	MessageCount uint64
	// FirstTimestamp is the smallest message timestamp in the active file.
	FirstTimestamp time.Time
	// NextTimestamp is the timestamp of the message about to be written.
	NextTimestamp time.Time
}

// SplitPolicy decides whether the active bagfile must be closed.
type SplitPolicy interface {
	// ShouldSplit returns true and a reason when the active file is full.
	ShouldSplit(stats FileStats) (bool, string)
}

// PolicyConfig configures split behavior.
type PolicyConfig struct {
	MaxBagfileSize     uint64
	MaxBagfileDuration time.Duration
}

// SizePolicy splits once the backend reports a size at or above the limit.
type SizePolicy struct {
	maxBytes uint64
}

// ShouldSplit implements SplitPolicy.
func (p SizePolicy) ShouldSplit(stats FileStats) (bool, string) {
	if p.maxBytes > 0 && stats.SizeBytes >= p.maxBytes {
		return true, ReasonSize
	}
	return false, ""
}

// DurationPolicy splits when the next message would extend the file past the limit.
type DurationPolicy struct {
	maxDuration time.Duration
}

// ShouldSplit implements SplitPolicy.
func (p DurationPolicy) ShouldSplit(stats FileStats) (bool, string) {
	if p.maxDuration <= 0 || stats.MessageCount == 0 {
		return false, ""
	}
	if stats.NextTimestamp.Sub(stats.FirstTimestamp) > p.maxDuration {
		return true, ReasonDuration
	}
	return false, ""
}

// CompositePolicy splits when any configured criterion is met.
type CompositePolicy struct {
	size     SizePolicy
	duration DurationPolicy
}

// NewCompositePolicy creates a composite split policy.
func NewCompositePolicy(config PolicyConfig) *CompositePolicy {
	return &CompositePolicy{
		size:     SizePolicy{maxBytes: config.MaxBagfileSize},
		duration: DurationPolicy{maxDuration: config.MaxBagfileDuration},
	}
}

// Enabled reports whether any split criterion is configured.
func (p *CompositePolicy) Enabled() bool {
	return p.NeedsSize() || p.duration.maxDuration > 0
}

// NeedsSize reports whether the backend size must be queried.
func (p *CompositePolicy) NeedsSize() bool {
	return p.size.maxBytes > 0
}

// ShouldSplit returns true if any split condition is met.
func (p *CompositePolicy) ShouldSplit(stats FileStats) (bool, string) {
	// Size-based split
	if ok, reason := p.size.ShouldSplit(stats); ok {
		return true, reason
	}

	// Time-based split
	if ok, reason := p.duration.ShouldSplit(stats); ok {
		return true, reason
	}

	return false, ""
}
