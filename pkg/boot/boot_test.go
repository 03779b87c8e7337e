package boot

import (
	"context"
	"testing"

	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

func switchHost(isStack bool) *hoststate.Host {
	h := &hoststate.Host{Name: "sw1.example.edu", Platform: "ios"}
	h.State.PrimaryImage = hoststate.String("c2960x-universalk9-mz.152-7.E5.bin")
	h.State.CurrentImage = hoststate.String("c2960x-universalk9-mz.152-4.E6.bin")
	info := &hoststate.StackInfo{IsStack: isStack}
	if isStack {
		info.Members = []string{"1", "2"}
		info.Master = "1"
	}
	h.State.StackInfo = info
	return h
}

func TestSetSwitch_Stack(t *testing.T) {
	h := switchHost(true)
	sess := &device.Fake{
		HostName: h.Name,
		Responses: map[string]string{
			"show boot system": "BOOT path-list      : flash:c2960x-universalk9-mz.152-7.E5.bin;flash:c2960x-universalk9-mz.152-4.E6.bin",
		},
	}

	if err := SetSwitch(context.Background(), sess, h, false); err != nil {
		t.Fatal(err)
	}

	if len(sess.ConfigBatches) != 1 {
		t.Fatalf("expected one config batch, got %v", sess.ConfigBatches)
	}
	batch := sess.ConfigBatches[0]
	if batch[0] != "no boot system switch all" {
		t.Errorf("first command = %q, want the stack-wide clear", batch[0])
	}
	want := "boot system switch all flash:c2960x-universalk9-mz.152-7.E5.bin;flash:c2960x-universalk9-mz.152-4.E6.bin"
	if batch[1] != want {
		t.Errorf("second command = %q, want %q", batch[1], want)
	}
	if sess.Saves != 1 {
		t.Errorf("expected one write memory, got %d", sess.Saves)
	}
	if !hoststate.BoolSet(h.State.BootStatementSet) {
		t.Error("verified statement must set boot_statement_set")
	}
}

func TestSetSwitch_AlreadySet(t *testing.T) {
	h := switchHost(false)
	h.State.BootStatementSet = hoststate.Bool(true)
	sess := &device.Fake{HostName: h.Name}

	if err := SetSwitch(context.Background(), sess, h, false); err != nil {
		t.Fatal(err)
	}
	if sess.MutatingCalls() != 0 {
		t.Error("already-set statement must not touch the device")
	}
}

func TestSetSwitch_PersistFailureLeavesUnset(t *testing.T) {
	h := switchHost(false)
	sess := &device.Fake{
		HostName: h.Name,
		SaveErr:  context.DeadlineExceeded,
	}

	if err := SetSwitch(context.Background(), sess, h, false); err != nil {
		t.Fatal(err)
	}
	if h.State.BootStatementSet != nil {
		t.Error("a failed persist must leave boot_statement_set unset")
	}
}

func TestVerifySwitch_Mismatch(t *testing.T) {
	h := switchHost(false)
	sess := &device.Fake{
		HostName: h.Name,
		Responses: map[string]string{
			"show boot system": "BOOT path-list      : flash:c2960x-universalk9-mz.152-4.E6.bin",
		},
	}

	ok, err := VerifySwitch(context.Background(), sess, h)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("boot statement without the target image must not verify")
	}
}

func routerHost(platform string) *hoststate.Host {
	h := &hoststate.Host{Name: "rtr1.example.edu", Platform: platform}
	h.State.PrimaryImage = hoststate.String("asr1000-universalk9.17.06.02.SPA.bin")
	h.State.CurrentImage = hoststate.String("asr1000-universalk9.16.12.04.SPA.bin")
	return h
}

func TestSetRouter(t *testing.T) {
	h := routerHost("ios-xe")
	sess := &device.Fake{
		HostName: h.Name,
		Responses: map[string]string{
			"show bootvar": `BOOT variable = bootflash:asr1000-universalk9.17.06.02.SPA.bin,12;bootflash:asr1000-universalk9.16.12.04.SPA.bin,12;
CONFIG_FILE variable =`,
		},
	}

	if err := SetRouter(context.Background(), sess, h, false); err != nil {
		t.Fatal(err)
	}

	if len(sess.ConfigBatches) != 1 {
		t.Fatalf("expected one config batch, got %v", sess.ConfigBatches)
	}
	batch := sess.ConfigBatches[0]
	want := []string{
		"no boot system",
		"boot system bootflash:asr1000-universalk9.17.06.02.SPA.bin",
		"boot system bootflash:asr1000-universalk9.16.12.04.SPA.bin",
	}
	for i := range want {
		if batch[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, batch[i], want[i])
		}
	}
	if !hoststate.BoolSet(h.State.BootStatementSet) {
		t.Error("verified statement must set boot_statement_set")
	}
}

func TestVerifyRouter(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		output   string
		want     bool
	}{
		{
			name:     "ios xe with both entries",
			platform: "ios-xe",
			output:   "BOOT variable = bootflash:asr1000-universalk9.17.06.02.SPA.bin,12;bootflash:asr1000-universalk9.16.12.04.SPA.bin,12;",
			want:     true,
		},
		{
			name:     "ios xe target only",
			platform: "ios-xe",
			output:   "BOOT variable = bootflash:asr1000-universalk9.17.06.02.SPA.bin;",
			want:     true,
		},
		{
			name:     "classic ios path list",
			platform: "ios",
			output:   "BOOT path-list      :flash:asr1000-universalk9.17.06.02.SPA.bin;",
			want:     true,
		},
		{
			name:     "wrong image",
			platform: "ios-xe",
			output:   "BOOT variable = bootflash:asr1000-universalk9.16.12.04.SPA.bin,12;",
			want:     false,
		},
		{
			name:     "unsupported platform",
			platform: "nx-os",
			output:   "BOOT variable = bootflash:asr1000-universalk9.17.06.02.SPA.bin;",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := routerHost(tt.platform)
			sess := &device.Fake{
				HostName:  h.Name,
				Responses: map[string]string{"show bootvar": tt.output},
			}
			got, err := VerifyRouter(context.Background(), sess, h)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("VerifyRouter() = %v, want %v", got, tt.want)
			}
		})
	}
}
