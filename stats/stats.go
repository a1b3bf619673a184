// Package stats provides a lock-free stats aggregator: atomic counters for
// the pipeline's monotone event counts, with derived metrics and a health
// label computed at snapshot time.
package stats

import (
	"math"
	"sync/atomic"
)

// Aggregator holds the pipeline's monotone counters. All fields are
// manipulated with atomic arithmetic only, no lock.
type Aggregator struct {
	framesQueued  atomic.Int64
	framesSent    atomic.Int64
	framesDropped atomic.Int64
	retries       atomic.Int64
	presentAtt    atomic.Int64
	presented     atomic.Int64
	realtimeOn    atomic.Int64
	realtimeOff   atomic.Int64

	avgFrameTimeMsBits atomic.Uint64 // IEEE-754 bits of a float64
}

// New returns a zeroed Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) IncFramesQueued()    { a.framesQueued.Add(1) }
func (a *Aggregator) IncFramesSent()      { a.framesSent.Add(1) }
func (a *Aggregator) IncFramesDropped()   { a.framesDropped.Add(1) }
func (a *Aggregator) IncRetries()         { a.retries.Add(1) }
func (a *Aggregator) IncPresentAttempt()  { a.presentAtt.Add(1) }
func (a *Aggregator) IncPresented()       { a.presented.Add(1) }
func (a *Aggregator) IncRealtimeEnable()  { a.realtimeOn.Add(1) }
func (a *Aggregator) IncRealtimeDisable() { a.realtimeOff.Add(1) }

// SetAvgFrameTimeMs records the pacer's current EWMA inter-present interval
// (milliseconds), used to derive EffectiveFPS in a Snapshot.
func (a *Aggregator) SetAvgFrameTimeMs(v float64) {
	a.avgFrameTimeMsBits.Store(math.Float64bits(v))
}

// HealthLabel classifies a Snapshot's success/drop rates into a coarse
// four-tier label.
type HealthLabel string

const (
	HealthExcellent HealthLabel = "Excellent"
	HealthGood      HealthLabel = "Good"
	HealthFair      HealthLabel = "Fair"
	HealthPoor      HealthLabel = "Poor"
)

// Snapshot is a point-in-time, consistent-enough read of the aggregator plus
// its derived metrics. Counters may advance between the individual atomic
// loads that build a Snapshot, which is acceptable for a monitoring surface.
type Snapshot struct {
	FramesQueued         int64
	FramesSent           int64
	FramesDropped        int64
	Retries              int64
	PresentAttempts      int64
	Presented            int64
	RealtimeEnableCount  int64
	RealtimeDisableCount int64

	AvgFrameTimeMs float64
	SuccessRate    float64
	DropRate       float64
	EffectiveFPS   float64
	Health         HealthLabel
}

// Snapshot reads every counter and computes derived metrics.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		FramesQueued:         a.framesQueued.Load(),
		FramesSent:           a.framesSent.Load(),
		FramesDropped:        a.framesDropped.Load(),
		Retries:              a.retries.Load(),
		PresentAttempts:      a.presentAtt.Load(),
		Presented:            a.presented.Load(),
		RealtimeEnableCount:  a.realtimeOn.Load(),
		RealtimeDisableCount: a.realtimeOff.Load(),
		AvgFrameTimeMs:       math.Float64frombits(a.avgFrameTimeMsBits.Load()),
	}

	if s.FramesQueued > 0 {
		s.SuccessRate = float64(s.FramesSent) / float64(s.FramesQueued)
		s.DropRate = float64(s.FramesDropped) / float64(s.FramesQueued)
	}
	if s.AvgFrameTimeMs > 0 {
		s.EffectiveFPS = 1000 / s.AvgFrameTimeMs
	}
	s.Health = healthFor(s.SuccessRate, s.DropRate)
	return s
}

func healthFor(successRate, dropRate float64) HealthLabel {
	switch {
	case successRate > 0.95 && dropRate < 0.02:
		return HealthExcellent
	case successRate > 0.85 && dropRate < 0.05:
		return HealthGood
	case successRate > 0.70 && dropRate < 0.10:
		return HealthFair
	default:
		return HealthPoor
	}
}

// Reset zeroes every counter. Used by txqueue.Queue.ResetStats.
func (a *Aggregator) Reset() {
	a.framesQueued.Store(0)
	a.framesSent.Store(0)
	a.framesDropped.Store(0)
	a.retries.Store(0)
	a.presentAtt.Store(0)
	a.presented.Store(0)
	a.realtimeOn.Store(0)
	a.realtimeOff.Store(0)
	a.avgFrameTimeMsBits.Store(0)
}
