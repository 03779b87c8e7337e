package upgrade

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/hoststate"
	"github.com/campus-netops/fleetup/pkg/inventory"
)

// atTargetResponses scripts a standalone host already running the target.
func atTargetResponses() map[string]string {
	responses := standaloneResponses()
	responses["show version | include image"] = `System image file is "flash:` + testPrimary + `"`
	return responses
}

func testInventory(hosts ...*hoststate.Host) *inventory.Inventory {
	inv := &inventory.Inventory{Hosts: make(map[string]*hoststate.Host)}
	for _, h := range hosts {
		inv.Hosts[h.Name] = h
	}
	return inv
}

func countReports(t *testing.T, dir, class string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, class+"_*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return len(matches)
}

func TestRunnerFallbackCredentialsRescueHost(t *testing.T) {
	good := testHost("sw-a")
	bad := testHost("sw-b")
	bad.Password = "stale"

	dialer := &device.FakeDialer{
		RejectPassword: "stale",
		Sessions: map[string]*device.Fake{
			good.Name: {HostName: good.Name, Responses: atTargetResponses()},
			bad.Name:  {HostName: bad.Name, Responses: atTargetResponses()},
		},
	}
	machine, manager := newTestMachine(t, dialer)

	reportsDir := t.TempDir()
	runner := &Runner{
		Machine:          machine,
		Manager:          manager,
		Inventory:        testInventory(good, bad),
		InventoryName:    "lab",
		ReportsDir:       reportsDir,
		FallbackUsername: "svc-fallback",
		FallbackPassword: "fresh",
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Total != 2 {
		t.Errorf("total = %d, want 2", summary.Total)
	}
	if len(summary.Failed) != 0 {
		t.Errorf("failed = %v, want none after fallback rescue", summary.Failed)
	}
	if len(summary.FailedAuth) != 0 {
		t.Errorf("failed auth = %v, want none after fallback rescue", summary.FailedAuth)
	}

	if bad.Username != "svc-fallback" || bad.Password != "fresh" {
		t.Errorf("fallback credentials not applied: %s/%s", bad.Username, bad.Password)
	}
	if !hoststate.BoolSet(bad.State.AuthStatus) {
		t.Error("rescued host should end with auth_status true")
	}

	// The rescued host was dialed in both passes.
	dials := 0
	for _, name := range dialer.Dials {
		if name == bad.Name {
			dials++
		}
	}
	if dials != 2 {
		t.Errorf("dials for %s = %d, want 2", bad.Name, dials)
	}

	if countReports(t, reportsDir, "failed_auth") != 1 {
		t.Error("first-pass auth failure report missing")
	}
	if countReports(t, reportsDir, "still_failed_auth") != 0 {
		t.Error("no still-failed report expected after rescue")
	}
	if countReports(t, reportsDir, "failed_hosts") != 0 {
		t.Error("no failed-hosts report expected")
	}
}

func TestRunnerWithoutFallbackReportsAuthFailures(t *testing.T) {
	bad := testHost("sw-b")
	bad.Password = "stale"

	dialer := &device.FakeDialer{RejectPassword: "stale"}
	machine, manager := newTestMachine(t, dialer)

	reportsDir := t.TempDir()
	runner := &Runner{
		Machine:       machine,
		Manager:       manager,
		Inventory:     testInventory(bad),
		InventoryName: "lab",
		ReportsDir:    reportsDir,
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(summary.FailedAuth) != 1 || summary.FailedAuth[0] != "sw-b" {
		t.Errorf("failed auth = %v, want [sw-b]", summary.FailedAuth)
	}
	if len(summary.Failed) != 1 || summary.Failed[0] != "sw-b" {
		t.Errorf("failed = %v, want [sw-b]", summary.Failed)
	}
	if countReports(t, reportsDir, "failed_auth") != 1 {
		t.Error("auth failure report missing")
	}
}

func TestRunnerSkipsInactiveHosts(t *testing.T) {
	active := testHost("sw-a")
	inactive := testHost("sw-b")
	inactive.State.Inactive = hoststate.Bool(true)

	dialer := &device.FakeDialer{
		Sessions: map[string]*device.Fake{
			active.Name: {HostName: active.Name, Responses: atTargetResponses()},
		},
	}
	machine, manager := newTestMachine(t, dialer)

	runner := &Runner{
		Machine:       machine,
		Manager:       manager,
		Inventory:     testInventory(active, inactive),
		InventoryName: "lab",
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Total != 1 {
		t.Errorf("total = %d, want 1 (inactive host skipped)", summary.Total)
	}
	for _, name := range dialer.Dials {
		if name == inactive.Name {
			t.Error("inactive host was dialed")
		}
	}
}
