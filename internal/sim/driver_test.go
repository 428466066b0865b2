package sim

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/san-kum/chemdyn/internal/dynamo"
	"github.com/san-kum/chemdyn/internal/models"
	"github.com/san-kum/chemdyn/internal/schedule"
	"github.com/san-kum/chemdyn/internal/trajectory"
)

// thermalIsomer is A <-> B with a forward rate that grows with temperature.
func thermalIsomer(t *testing.T) *models.MassAction {
	t.Helper()
	m, err := models.NewMassAction("isomer", []string{"A", "B"}, []models.Reaction{
		{Reactants: []string{"A"}, Products: []string{"B"}, Kind: models.TwoBody, Alpha: 1e-9, Beta: 1},
		{Reactants: []string{"B"}, Products: []string{"A"}, Kind: models.Constant, Alpha: 1e-10},
	}, models.WithInvariant("total", map[string]float64{"A": 1, "B": 1}))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func increasingGrid(t *testing.T, n int, unit float64) schedule.Grid {
	t.Helper()
	times := []float64{0}
	for k := 1; k <= n; k++ {
		times = append(times, times[k-1]+float64(k)*1e7/unit)
	}
	g, err := schedule.NewExternal(times, unit)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestDriver_SixtyFourSystems(t *testing.T) {
	net := thermalIsomer(t)
	s := newTestSession(t, net)

	const n = 64
	b := newBatch(n, net.Dim(), dynamo.LayoutIndependent)
	for i := 0; i < n; i++ {
		_ = b.Fill(i, []float64{1, DefaultFloor})
		p := dynamo.DefaultParams()
		p.Tgas = 10 + 5*float64(i)
		b.SetParams(i, p)
	}

	var bin, txt, timing bytes.Buffer
	rec := trajectory.NewRecorder(&bin, &txt, net.Dim())
	d := NewDriver(s, increasingGrid(t, 10, schedule.Second), rec, trajectory.NewTimingLog(&timing))
	d.TimeUnit = schedule.Second

	res, err := d.Run(context.Background(), b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Intervals != 10 || res.Records != n*11 {
		t.Errorf("intervals=%d records=%d, want 10 and %d", res.Intervals, res.Records, n*11)
	}
	if got := bin.Len(); got != n*11*trajectory.RecordSize(net.Dim()) {
		t.Errorf("binary stream has %d bytes", got)
	}
	if lines := strings.Count(timing.String(), "\n"); lines != 10 {
		t.Errorf("timing log has %d lines, want 10", lines)
	}
	if lines := strings.Count(txt.String(), "\n"); lines != n*11 {
		t.Errorf("text stream has %d lines, want %d", lines, n*11)
	}

	recs, err := trajectory.ReadAll(&bin, net.Dim())
	if err != nil {
		t.Fatal(err)
	}
	for sys := 0; sys < n; sys++ {
		times, _ := trajectory.Series(recs, sys, 0)
		if len(times) != 11 {
			t.Fatalf("system %d has %d samples", sys, len(times))
		}
		for k := 1; k < len(times); k++ {
			if times[k] <= times[k-1] {
				t.Errorf("system %d: sample %d at %g after %g", sys, k, times[k], times[k-1])
			}
		}
	}

	// Hotter systems convert faster.
	if b.State(n - 1)[1] <= b.State(0)[1] {
		t.Errorf("B(hot) = %g, B(cold) = %g", b.State(n - 1)[1], b.State(0)[1])
	}
	if res.Stats.Steps == 0 {
		t.Error("engine stats were not aggregated")
	}
}

func TestDriver_RecordOrder(t *testing.T) {
	net := models.NewToy4()
	s := newTestSession(t, net)
	b := toyBatch(2)

	var bin bytes.Buffer
	grid, _ := schedule.NewExternal([]float64{0, 1, 3}, schedule.Year)
	d := NewDriver(s, grid, trajectory.NewRecorder(&bin, nil, net.Dim()), nil)
	if _, err := d.Run(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	recs, err := trajectory.ReadAll(&bin, net.Dim())
	if err != nil {
		t.Fatal(err)
	}

	type key struct {
		System int
		Time   float64
	}
	var got []key
	for _, r := range recs {
		got = append(got, key{r.System, r.Time})
	}
	want := []key{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {0, 3}, {1, 3}}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(1e-12, 0)); diff != "" {
		t.Errorf("record order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64(b.State(1)), recs[5].Y); diff != "" {
		t.Errorf("trailing record does not hold the final state (-want +got):\n%s", diff)
	}
}

func TestDriver_IntervalLogLine(t *testing.T) {
	net := models.NewToy4()
	s := newTestSession(t, net)
	grid, _ := schedule.NewExternal([]float64{0, 1, 2}, schedule.Year)
	d := NewDriver(s, grid, nil, nil)
	logger, hook := logtest.NewNullLogger()
	d.Log = logger

	if _, err := d.Run(context.Background(), toyBatch(1)); err != nil {
		t.Fatal(err)
	}
	line := regexp.MustCompile(`^Time = \d\.\d{7}e[+-]\d{2}, elapsed: \d\.\d{5}e[+-]\d{2} sec$`)
	n := 0
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "Time = ") {
			n++
			if !line.MatchString(e.Message) {
				t.Errorf("interval line %q", e.Message)
			}
		}
	}
	if n != 2 {
		t.Errorf("logged %d interval lines, want 2", n)
	}
}

func TestDriver_SingleSampleRecordsInitialOnly(t *testing.T) {
	net := models.NewToy4()
	s := newTestSession(t, net)
	grid, _ := schedule.NewExternal([]float64{0}, schedule.Year)

	var bin bytes.Buffer
	d := NewDriver(s, grid, trajectory.NewRecorder(&bin, nil, net.Dim()), nil)
	res, err := d.Run(context.Background(), toyBatch(3))
	if err != nil {
		t.Fatal(err)
	}
	if res.Intervals != 0 || res.Records != 3 {
		t.Errorf("intervals=%d records=%d, want 0 and 3", res.Intervals, res.Records)
	}
}

func TestDriver_FailurePolicies(t *testing.T) {
	grid, _ := schedule.NewExternal([]float64{0, 1, 2, 3}, schedule.Year)
	setup := func(t *testing.T) (*Session, *dynamo.Batch) {
		s := newTestSession(t, poisoned{models.NewToy4()})
		b := toyBatch(4)
		b.Params(1).Tgas = -1
		return s, b
	}

	t.Run("abort", func(t *testing.T) {
		s, b := setup(t)
		var bin bytes.Buffer
		d := NewDriver(s, grid, trajectory.NewRecorder(&bin, nil, 4), nil)
		res, err := d.Run(context.Background(), b)

		var se *dynamo.StageError
		if !errors.As(err, &se) {
			t.Fatalf("expected *StageError, got %v", err)
		}
		if se.Stage != "solve" || se.System != 1 {
			t.Errorf("stage=%q system=%d, want solve and 1", se.Stage, se.System)
		}
		if !errors.Is(err, dynamo.ErrIntegration) {
			t.Error("abort error does not wrap the integration failure")
		}
		if res.Intervals != 0 || len(res.Failures) != 1 {
			t.Errorf("intervals=%d failures=%d", res.Intervals, len(res.Failures))
		}
		if bin.Len() != 4*trajectory.RecordSize(4) {
			t.Errorf("partial output has %d bytes", bin.Len())
		}
	})

	t.Run("continue", func(t *testing.T) {
		s, b := setup(t)
		held := b.State(1).Clone()
		var failed []int
		d := NewDriver(s, grid, nil, nil)
		d.Policy = PolicyContinue
		d.AddObserver(ObserverFunc(func(k int, iv schedule.Interval, _ time.Duration, err error) {
			failed = append(failed, dynamo.FailedSystems(err)...)
		}))

		res, err := d.Run(context.Background(), b)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Intervals != 3 || len(res.Failures) != 3 {
			t.Errorf("intervals=%d failures=%d, want 3 and 3", res.Intervals, len(res.Failures))
		}
		if diff := cmp.Diff([]int{1, 1, 1}, failed); diff != "" {
			t.Errorf("observed failures (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(held, b.State(1)); diff != "" {
			t.Errorf("failed system was not held (-want +got):\n%s", diff)
		}
	})

	t.Run("subdivide", func(t *testing.T) {
		s, b := setup(t)
		d := NewDriver(s, grid, nil, nil)
		d.Policy = PolicySubdivide
		res, err := d.Run(context.Background(), b)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(res.Failures) != 3 {
			t.Errorf("failures = %d, want one per interval", len(res.Failures))
		}
	})
}

func TestDriver_Metrics(t *testing.T) {
	net := models.NewToy4()
	s := newTestSession(t, net)
	grid, _ := schedule.NewExternal([]float64{0, 1, 2}, schedule.Year)
	d := NewDriver(s, grid, nil, nil)
	m := &countMetric{}
	d.AddMetric(m)

	res, err := d.Run(context.Background(), toyBatch(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Metrics["count"] != 3 {
		t.Errorf("metric observed %v times, want 3", res.Metrics["count"])
	}
}

func TestDriver_Cancelled(t *testing.T) {
	s := newTestSession(t, models.NewToy4())
	grid, _ := schedule.NewExternal([]float64{0, 1, 2}, schedule.Year)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDriver(s, grid, nil, nil).Run(ctx, toyBatch(8))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	tests := map[string]FailurePolicy{
		"": PolicyAbort, "abort": PolicyAbort, "Continue": PolicyContinue, "subdivide": PolicySubdivide,
	}
	for in, want := range tests {
		got, err := ParseFailurePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseFailurePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFailurePolicy("ignore"); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

type countMetric struct{ n int }

func (c *countMetric) Name() string                    { return "count" }
func (c *countMetric) Observe(float64, *dynamo.Batch) { c.n++ }
func (c *countMetric) Value() float64                  { return float64(c.n) }
func (c *countMetric) Reset()                          { c.n = 0 }
