package db

import (
	"path/filepath"
	"testing"

	"github.com/campus-netops/fleetup/pkg/hoststate"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "fleetup.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSaveAndLoadState(t *testing.T) {
	repo := newRepo(t)

	h := &hoststate.Host{Name: "sw1.example.edu"}
	h.State.CurrentImage = hoststate.String("cat9k_iosxe.16.12.04.SPA.bin")
	h.State.PrimaryImageInFlash = hoststate.Bool(true)

	if err := repo.SaveState(h, "spring-upgrade"); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	state, found, err := repo.LoadState("sw1.example.edu")
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if !found {
		t.Fatal("saved state not found")
	}
	if hoststate.StringVal(state.CurrentImage) != "cat9k_iosxe.16.12.04.SPA.bin" {
		t.Errorf("current_image = %v", state.CurrentImage)
	}
	if !hoststate.BoolSet(state.PrimaryImageInFlash) {
		t.Error("primary_image_in_flash lost in round trip")
	}

	_, found, err = repo.LoadState("unknown.example.edu")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("unknown host must not be found")
	}
}

func TestSaveState_AppendsTrail(t *testing.T) {
	repo := newRepo(t)

	h := &hoststate.Host{Name: "sw1.example.edu"}
	h.State.PrimaryImageInFlash = hoststate.Bool(false)
	if err := repo.SaveState(h, "spring-upgrade"); err != nil {
		t.Fatal(err)
	}
	h.State.PrimaryImageInFlash = hoststate.Bool(true)
	if err := repo.SaveState(h, "spring-upgrade"); err != nil {
		t.Fatal(err)
	}

	entries, err := repo.Trail("sw1.example.edu")
	if err != nil {
		t.Fatalf("failed to query trail: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 trail entries, got %d", len(entries))
	}

	state, _, err := repo.LoadState("sw1.example.edu")
	if err != nil {
		t.Fatal(err)
	}
	if !hoststate.BoolSet(state.PrimaryImageInFlash) {
		t.Error("latest snapshot must win")
	}
}

func TestRestoreStates_KeepsInventoryImage(t *testing.T) {
	repo := newRepo(t)

	saved := &hoststate.Host{Name: "sw1.example.edu"}
	saved.State.PrimaryImage = hoststate.String("old-target.bin")
	saved.State.PrimaryImageInFlash = hoststate.Bool(true)
	if err := repo.SaveState(saved, "spring-upgrade"); err != nil {
		t.Fatal(err)
	}

	fresh := &hoststate.Host{Name: "sw1.example.edu"}
	fresh.State.PrimaryImage = hoststate.String("new-target.bin")

	if err := repo.RestoreStates([]*hoststate.Host{fresh}); err != nil {
		t.Fatal(err)
	}
	if !hoststate.BoolSet(fresh.State.PrimaryImageInFlash) {
		t.Error("saved progress must be restored")
	}
	if hoststate.StringVal(fresh.State.PrimaryImage) != "new-target.bin" {
		t.Error("the inventory's target image must win over the saved one")
	}
}

func TestRunRecords(t *testing.T) {
	repo := newRepo(t)

	id, err := repo.StartRun("spring-upgrade", "transfer", 42)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	if err := repo.FinishRun(id, 3); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	runs, err := repo.ListRuns()
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Inventory != "spring-upgrade" || run.Workflow != "transfer" {
		t.Errorf("run identity mismatch: %+v", run)
	}
	if run.HostsTotal != 42 || run.HostsFailed != 3 {
		t.Errorf("run counts mismatch: %+v", run)
	}
	if run.FinishedAt == "" {
		t.Error("finished run must carry a finish timestamp")
	}
}
