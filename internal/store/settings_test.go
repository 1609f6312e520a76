package store

import (
	"errors"
	"testing"

	"github.com/ayusman/ardetect/internal/detector"
)

func TestSettingsRepository_GetSet(t *testing.T) {
	repo := newTestStore(t).Settings()

	t.Run("missing key returns ErrNotFound", func(t *testing.T) {
		_, err := repo.Get("nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		if err := repo.Set("camera.rotation", "90"); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, err := repo.Get("camera.rotation")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != "90" {
			t.Errorf("Get = %q, want 90", got)
		}
	})

	t.Run("set overwrites", func(t *testing.T) {
		if err := repo.Set("camera.rotation", "270"); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, _ := repo.Get("camera.rotation")
		if got != "270" {
			t.Errorf("Get = %q, want 270", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := repo.Delete("camera.rotation"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := repo.Get("camera.rotation"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete("camera.rotation"); err != nil {
			t.Errorf("deleting a missing key should succeed: %v", err)
		}
	})
}

func TestSettingsRepository_Options(t *testing.T) {
	repo := newTestStore(t).Settings()

	if _, err := repo.LoadOptions(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	want := detector.Options{
		Threshold:  0.35,
		NumThreads: 3,
		MaxResults: 5,
		Delegate:   detector.DelegateNNAPI,
		Model:      detector.ModelSign4,
		ModelDir:   "/data/models",
	}
	if err := repo.SaveOptions(want); err != nil {
		t.Fatalf("SaveOptions: %v", err)
	}

	got, err := repo.LoadOptions()
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	if got != want {
		t.Errorf("LoadOptions = %+v, want %+v", got, want)
	}
}

func TestSettingsRepository_LoadOptionsCorrupt(t *testing.T) {
	repo := newTestStore(t).Settings()

	if err := repo.Set(detectorOptionsKey, `{"delegate":"tpu"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := repo.LoadOptions(); err == nil {
		t.Error("expected decode error for unknown delegate")
	}
}
