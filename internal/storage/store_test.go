package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/san-kum/chemdyn/internal/integrators"
	"github.com/san-kum/chemdyn/internal/trajectory"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreSaveLoad(t *testing.T) {
	st := openStore(t)

	id, dir, err := st.NewRun("toy4")
	if err != nil {
		t.Fatal(err)
	}
	if dir != st.Dir(id) {
		t.Errorf("dir = %s, want %s", dir, st.Dir(id))
	}

	files, err := trajectory.Open(dir, "toy4", 4)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float64{{0.4, 0.4, 0.1, 0.1}, {0.3, 0.45, 0.15, 0.1}}
	for k, y := range want {
		if err := files.Recorder.Record(0, float64(k), y); err != nil {
			t.Fatal(err)
		}
	}
	if err := files.Close(); err != nil {
		t.Fatal(err)
	}

	meta := &RunMetadata{
		ID:       id,
		Network:  "toy4",
		Species:  []string{"A", "B", "C", "D"},
		Dim:      4,
		Engine:   "bdf",
		Strategy: "dense",
		Systems:  1,
		Tag:      "toy4",
		Status:   "completed",
		Stats:    integrators.Stats{Steps: 12},
		Metrics:  map[string]float64{"drift_total": 1e-9},
	}
	if err := st.Save(meta); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := st.Load(id)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if diff := cmp.Diff(meta, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	_, recs, err := st.LoadTrajectory(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	for k, r := range recs {
		if diff := cmp.Diff(want[k], r.Y); diff != "" {
			t.Errorf("record %d (-want +got):\n%s", k, diff)
		}
	}
}

func TestStoreList(t *testing.T) {
	st := openStore(t)

	runs, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("expected empty catalog, got %d runs", len(runs))
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, net := range []string{"ism", "primordial"} {
		meta := &RunMetadata{ID: net + "_run", Network: net, Engine: "bdf", Strategy: "auto",
			Systems: 2, Status: "completed", Timestamp: base.Add(time.Duration(i) * time.Hour)}
		if err := st.Save(meta); err != nil {
			t.Fatal(err)
		}
	}
	// Saving again updates the row in place.
	if err := st.Save(&RunMetadata{ID: "ism_run", Network: "ism", Engine: "bdf", Strategy: "auto",
		Systems: 2, Status: "aborted", Failures: 1, Timestamp: base}); err != nil {
		t.Fatal(err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "ism_run" || runs[0].Status != "aborted" || runs[0].Failures != 1 {
		t.Errorf("first run = %+v", runs[0])
	}
	if !runs[1].CreatedAt().Equal(base.Add(time.Hour)) {
		t.Errorf("created = %v", runs[1].CreatedAt())
	}
}

func TestStoreLoadMissing(t *testing.T) {
	st := openStore(t)
	if _, err := st.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := st.Save(&RunMetadata{}); err == nil {
		t.Error("expected error saving metadata without id")
	}
}
