package reload

import (
	"context"
	"testing"

	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

func TestValidTime(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"23:00 15 mar", true},
		{"00:30 31 jan", true},
		{"04:00 29 feb", true},
		{"  22:00 01 AUG  ", true},
		{"30 feb 22:00", false},
		{"24:00 15 mar", false},
		{"23:60 15 mar", false},
		{"23:00 31 apr", false},
		{"23:00 30 feb", false},
		{"23:00 15 march", false},
		{"23:00 15", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ValidTime(tt.in); got != tt.want {
			t.Errorf("ValidTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func newHost() *hoststate.Host {
	h := &hoststate.Host{Name: "sw1.example.edu"}
	h.State.IsAtTarget = hoststate.Bool(false)
	return h
}

func TestSchedule(t *testing.T) {
	h := newHost()
	sess := &device.Fake{HostName: h.Name}

	if err := Schedule(context.Background(), sess, h, "23:00 15 mar", false); err != nil {
		t.Fatal(err)
	}
	if len(sess.Commands) != 1 || sess.Commands[0] != "reload at 23:00 15 mar\nyes\n\nshow reload\n" {
		t.Errorf("unexpected commands: %q", sess.Commands)
	}
	if hoststate.StringVal(h.State.ReloadTime) != "23:00 15 mar" {
		t.Errorf("reload_time = %v", h.State.ReloadTime)
	}
}

func TestSchedule_SkipsAtTarget(t *testing.T) {
	h := newHost()
	h.State.IsAtTarget = hoststate.Bool(true)
	sess := &device.Fake{HostName: h.Name}

	if err := Schedule(context.Background(), sess, h, "23:00 15 mar", false); err != nil {
		t.Fatal(err)
	}
	if len(sess.Commands) != 0 {
		t.Error("a host at target must not be scheduled")
	}
}

func TestSchedule_SkipsAlreadyScheduled(t *testing.T) {
	h := newHost()
	h.State.ReloadTime = hoststate.String("23:00 15 mar")
	h.State.ReloadSet = hoststate.Bool(true)
	sess := &device.Fake{HostName: h.Name}

	if err := Schedule(context.Background(), sess, h, "23:00 15 mar", false); err != nil {
		t.Fatal(err)
	}
	if len(sess.Commands) != 0 {
		t.Error("an already verified schedule must not be re-issued")
	}

	// force re-issues regardless
	if err := Schedule(context.Background(), sess, h, "23:00 15 mar", true); err != nil {
		t.Fatal(err)
	}
	if len(sess.Commands) != 1 {
		t.Error("force must re-issue the schedule")
	}
}

func TestSchedule_RejectsBadTime(t *testing.T) {
	h := newHost()
	sess := &device.Fake{HostName: h.Name}

	if err := Schedule(context.Background(), sess, h, "31 apr 23:00", false); err != nil {
		t.Fatal(err)
	}
	if len(sess.Commands) != 0 {
		t.Error("an invalid time must never reach the device")
	}
}

func TestCancelAtTarget(t *testing.T) {
	h := newHost()
	sess := &device.Fake{HostName: h.Name}

	if err := CancelAtTarget(context.Background(), sess, h); err != nil {
		t.Fatal(err)
	}
	if len(sess.Commands) != 0 {
		t.Error("a host below target must keep its schedule")
	}

	h.State.IsAtTarget = hoststate.Bool(true)
	if err := CancelAtTarget(context.Background(), sess, h); err != nil {
		t.Fatal(err)
	}
	if len(sess.Commands) != 1 || sess.Commands[0] != "reload cancel" {
		t.Errorf("unexpected commands: %q", sess.Commands)
	}
	if hoststate.BoolSet(h.State.ReloadSet) {
		t.Error("cancel must clear reload_set")
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{
			name:   "scheduled with stripped leading zero",
			output: "Reload scheduled for 23:00:00 UTC Sat Mar 15 2026 (at 23:00 15 mar)",
			want:   true,
		},
		{
			name:   "nothing scheduled",
			output: "No reload information.",
			want:   false,
		},
		{
			name:   "different time scheduled",
			output: "Reload scheduled (at 22:00 14 mar)",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost()
			h.State.ReloadTime = hoststate.String("23:00 15 mar")
			sess := &device.Fake{
				HostName:  h.Name,
				Responses: map[string]string{"show reload": tt.output},
			}
			if err := Verify(context.Background(), sess, h, true); err != nil {
				t.Fatal(err)
			}
			if hoststate.BoolSet(h.State.ReloadSet) != tt.want {
				t.Errorf("reload_set = %v, want %v", h.State.ReloadSet, tt.want)
			}
		})
	}
}

func TestVerify_ReconcilesDownward(t *testing.T) {
	h := newHost()
	h.State.ReloadTime = hoststate.String("23:00 15 mar")
	h.State.ReloadSet = hoststate.Bool(true)
	sess := &device.Fake{
		HostName:  h.Name,
		Responses: map[string]string{"show reload": "No reload information."},
	}

	if err := Verify(context.Background(), sess, h, true); err != nil {
		t.Fatal(err)
	}
	if hoststate.BoolSet(h.State.ReloadSet) {
		t.Error("a cleared device schedule must clear reload_set")
	}
}

func TestCheckNone(t *testing.T) {
	h := newHost()
	sess := &device.Fake{
		HostName:  h.Name,
		Responses: map[string]string{"show reload": "No reload information."},
	}

	if err := CheckNone(context.Background(), sess, h); err != nil {
		t.Fatal(err)
	}
	if hoststate.BoolSet(h.State.ReloadSet) {
		t.Error("no pending reload must clear reload_set")
	}

	sess.Responses["show reload"] = "Reload scheduled for 23:00:00 UTC Sat Mar 15 2026"
	if err := CheckNone(context.Background(), sess, h); err != nil {
		t.Fatal(err)
	}
	if !hoststate.BoolSet(h.State.ReloadSet) {
		t.Error("a pending reload must set reload_set")
	}
}
