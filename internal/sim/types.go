package sim

import (
	"time"

	"github.com/san-kum/chemdyn/internal/dynamo"
	"github.com/san-kum/chemdyn/internal/integrators"
	"github.com/san-kum/chemdyn/internal/schedule"
)

// Metric summarizes a run from the batch state after every interval.
type Metric interface {
	Name() string
	Observe(t float64, batch *dynamo.Batch)
	Value() float64
	Reset()
}

// Observer is told about every finished interval. err is the interval's
// *dynamo.BatchError after the failure policy ran, or nil.
type Observer interface {
	OnInterval(k int, iv schedule.Interval, elapsed time.Duration, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(k int, iv schedule.Interval, elapsed time.Duration, err error)

func (f ObserverFunc) OnInterval(k int, iv schedule.Interval, elapsed time.Duration, err error) {
	f(k, iv, elapsed, err)
}

// Result summarizes one driver run.
type Result struct {
	Intervals int
	Records   int
	// FinalTime is the last sample time in seconds.
	FinalTime float64
	Failures  []*dynamo.IntegrationFailure
	Stats     integrators.Stats
	Metrics   map[string]float64
	Elapsed   time.Duration
}
