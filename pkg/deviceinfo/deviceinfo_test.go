package deviceinfo

import (
	"context"
	"errors"
	"testing"

	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

func TestCheckCredentials(t *testing.T) {
	dialer := &device.FakeDialer{RejectPassword: "stale"}

	good := &hoststate.Host{Name: "sw1.example.edu", Password: "current"}
	CheckCredentials(context.Background(), dialer, good)
	if !hoststate.BoolSet(good.State.AuthStatus) {
		t.Error("expected auth_status true")
	}
	if !dialer.Sessions["sw1.example.edu"].Closed {
		t.Error("credential check must close its session")
	}

	bad := &hoststate.Host{Name: "sw2.example.edu", Password: "stale"}
	CheckCredentials(context.Background(), dialer, bad)
	if bad.State.AuthStatus == nil || *bad.State.AuthStatus {
		t.Error("expected auth_status false")
	}
	if bad.State.ConnectionError != nil {
		t.Error("an auth failure is not a connection error")
	}
}

type failDialer struct{}

func (failDialer) Dial(context.Context, *hoststate.Host) (device.Session, error) {
	return nil, errors.New("connection timed out")
}

func TestCheckCredentials_ConnectionError(t *testing.T) {
	h := &hoststate.Host{Name: "sw3.example.edu"}
	CheckCredentials(context.Background(), failDialer{}, h)
	if h.State.AuthStatus != nil {
		t.Error("a connection error must not decide auth_status")
	}
	if hoststate.StringVal(h.State.ConnectionError) == "" {
		t.Error("expected connection_error to be recorded")
	}
}

func TestIsRouter(t *testing.T) {
	if !IsRouter(&hoststate.Host{Name: "bldg-cir-1.example.edu"}) {
		t.Error("core infrastructure router not recognized")
	}
	if IsRouter(&hoststate.Host{Name: "bldg-sw-1.example.edu"}) {
		t.Error("switch misclassified as router")
	}
}

func TestGetStackInfo_RouterSkipsQuery(t *testing.T) {
	h := &hoststate.Host{Name: "bldg-cir-1.example.edu"}
	sess := &device.Fake{HostName: h.Name}

	if err := GetStackInfo(context.Background(), sess, h, false); err != nil {
		t.Fatal(err)
	}
	if len(sess.Commands) != 0 {
		t.Error("routers must not be queried for stack membership")
	}
	if h.State.StackInfo == nil || h.State.StackInfo.IsStack {
		t.Errorf("router must resolve standalone, got %+v", h.State.StackInfo)
	}
}

func TestGetStackInfo_CachedUnlessForced(t *testing.T) {
	h := &hoststate.Host{Name: "sw1.example.edu"}
	h.State.StackInfo = &hoststate.StackInfo{IsStack: false}
	sess := &device.Fake{HostName: h.Name}

	if err := GetStackInfo(context.Background(), sess, h, false); err != nil {
		t.Fatal(err)
	}
	if len(sess.Commands) != 0 {
		t.Error("cached stack info must not be re-queried")
	}

	sess.Responses = map[string]string{"show switch": "% Invalid input detected"}
	if err := GetStackInfo(context.Background(), sess, h, true); err != nil {
		t.Fatal(err)
	}
	if len(sess.Commands) != 1 {
		t.Error("force must re-query the device")
	}
}

func TestParseSystemImage(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{`System image file is "flash:cat9k_iosxe.16.12.04.SPA.bin"`, "cat9k_iosxe.16.12.04.SPA.bin"},
		{`System image file is "bootflash:asr1000-universalk9.17.06.02.SPA.bin"`, "asr1000-universalk9.17.06.02.SPA.bin"},
		{`System image file is "flash:/c2960x-universalk9-mz.152-4.E6.bin"`, "/c2960x-universalk9-mz.152-4.E6.bin"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := parseSystemImage(tt.output); got != tt.want {
			t.Errorf("parseSystemImage(%q) = %q, want %q", tt.output, got, tt.want)
		}
	}
}

func TestGetCurrentImage(t *testing.T) {
	h := &hoststate.Host{Name: "sw1.example.edu"}
	h.State.PrimaryImage = hoststate.String("cat9k_iosxe.17.06.02.SPA.bin")
	sess := &device.Fake{
		HostName: h.Name,
		Responses: map[string]string{
			"show version | include image": `System image file is "flash:cat9k_iosxe.17.06.02.SPA.bin"`,
		},
	}

	if err := GetCurrentImage(context.Background(), sess, h, true); err != nil {
		t.Fatal(err)
	}
	if hoststate.StringVal(h.State.CurrentImage) != "cat9k_iosxe.17.06.02.SPA.bin" {
		t.Errorf("current_image = %v", h.State.CurrentImage)
	}
	if !hoststate.BoolSet(h.State.IsAtTarget) {
		t.Error("running the target image must set is_at_target")
	}
}

func TestGetOSVersion(t *testing.T) {
	h := &hoststate.Host{Name: "sw1.example.edu"}
	sess := &device.Fake{
		HostName: h.Name,
		Responses: map[string]string{
			"show version | include Version": "Cisco IOS XE Software, Version 16.12.4\nCisco IOS Software, Catalyst L3 Switch Software, Version 16.12.4, RELEASE SOFTWARE",
		},
	}

	if err := GetOSVersion(context.Background(), sess, h); err != nil {
		t.Fatal(err)
	}
	if hoststate.StringVal(h.State.OSVersion) != "16.12.4" {
		t.Errorf("os_version = %v", h.State.OSVersion)
	}
}

func TestAtTargetVersion(t *testing.T) {
	h := &hoststate.Host{Name: "sw1.example.edu"}
	h.State.PrimaryImage = hoststate.String("c2960x-universalk9-mz.152-4.E6.bin")
	h.State.CurrentImage = hoststate.String("other.bin")
	h.State.OSVersion = hoststate.String("15.2(4)E6")

	if !AtTargetVersion(h) {
		t.Error("running version matching the target image must count as at target")
	}

	h.State.OSVersion = hoststate.String("15.2(4)E5")
	if AtTargetVersion(h) {
		t.Error("older running version must not count as at target")
	}
}

func TestVerifyHostname_DNSInventoryMismatch(t *testing.T) {
	h := &hoststate.Host{Name: "sw1.example.edu", Hostname: "10.0.0.5"}
	h.State.DNSIP = hoststate.String("10.0.0.9")
	sess := &device.Fake{HostName: h.Name}

	if VerifyHostname(context.Background(), sess, h) {
		t.Error("DNS disagreeing with the inventory address must fail verification")
	}
	if hoststate.BoolSet(h.State.HostnameVerified) {
		t.Error("hostname_verified must stay false")
	}
}

func TestVerifyHostname_AlreadyVerified(t *testing.T) {
	h := &hoststate.Host{Name: "sw1.example.edu"}
	h.State.HostnameVerified = hoststate.Bool(true)
	sess := &device.Fake{HostName: h.Name}

	if !VerifyHostname(context.Background(), sess, h) {
		t.Error("a verified host must short-circuit")
	}
	if len(sess.Commands) != 0 {
		t.Error("a verified host must not be queried")
	}
}
