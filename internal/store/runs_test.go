package store

import (
	"testing"
	"time"
)

func TestRunRepository_RecordAndRecent(t *testing.T) {
	repo := newTestStore(t).Runs()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		run := &Run{
			Model:       "sign1",
			Delegate:    "cpu",
			Detections:  i,
			InferenceMs: float64(10 * (i + 1)),
			ImageWidth:  480,
			ImageHeight: 640,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Record(run); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if run.ID == "" {
			t.Fatal("Record should assign an ID")
		}
	}

	runs, err := repo.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Detections != 2 || runs[1].Detections != 1 {
		t.Errorf("runs not ordered newest first: %+v", runs)
	}
	if runs[0].ImageWidth != 480 || runs[0].ImageHeight != 640 {
		t.Errorf("unexpected image size %dx%d", runs[0].ImageWidth, runs[0].ImageHeight)
	}
}

func TestRunRepository_RecordSetsTimestamp(t *testing.T) {
	repo := newTestStore(t).Runs()

	run := &Run{Model: "sign2", Delegate: "gpu", InferenceMs: 4}
	if err := repo.Record(run); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if run.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set after record")
	}
}

func TestRunRepository_Stats(t *testing.T) {
	repo := newTestStore(t).Runs()

	st, err := repo.Stats()
	if err != nil {
		t.Fatalf("Stats on empty table: %v", err)
	}
	if st.Count != 0 || st.AvgInferenceMs != 0 {
		t.Errorf("expected zero stats, got %+v", st)
	}

	for _, ms := range []float64{10, 20, 30} {
		if err := repo.Record(&Run{Model: "sign1", Delegate: "cpu", Detections: 2, InferenceMs: ms}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	st, err = repo.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Count != 3 {
		t.Errorf("Count = %d, want 3", st.Count)
	}
	if st.AvgInferenceMs != 20 {
		t.Errorf("AvgInferenceMs = %f, want 20", st.AvgInferenceMs)
	}
	if st.MaxInferenceMs != 30 {
		t.Errorf("MaxInferenceMs = %f, want 30", st.MaxInferenceMs)
	}
	if st.TotalDetected != 6 {
		t.Errorf("TotalDetected = %d, want 6", st.TotalDetected)
	}
}

func TestRunRepository_Prune(t *testing.T) {
	repo := newTestStore(t).Runs()

	now := time.Now()
	old := &Run{Model: "sign1", Delegate: "cpu", InferenceMs: 1, CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &Run{Model: "sign1", Delegate: "cpu", InferenceMs: 1, CreatedAt: now}
	for _, r := range []*Run{old, fresh} {
		if err := repo.Record(r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	n, err := repo.Prune(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune removed %d rows, want 1", n)
	}

	runs, _ := repo.Recent(10)
	if len(runs) != 1 || runs[0].ID != fresh.ID {
		t.Errorf("expected only the fresh run to remain, got %+v", runs)
	}
}
