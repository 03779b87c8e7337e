// Package deviceinfo reads identity and version facts off devices and
// records them in the host state: reachability, credentials, hostname and
// DNS identity, running image and OS version.
package deviceinfo

import (
	"context"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/hoststate"
	"github.com/campus-netops/fleetup/pkg/imagematch"
	"github.com/campus-netops/fleetup/pkg/stack"
)

// CheckReachable probes the host's SSH port. Devices do not answer ICMP
// from every management network, the SSH port is what the workflow needs
// anyway.
func CheckReachable(ctx context.Context, h *hoststate.Host, timeout time.Duration) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(h.Target(), h.SSHPort()))
	if err != nil {
		slog.Warn("host_unreachable", "host", h.Name, "error", err)
		h.State.PingStatus = hoststate.Bool(false)
		return
	}
	conn.Close()
	h.State.PingStatus = hoststate.Bool(true)
}

// CheckCredentials opens and closes a session to test authentication.
// auth_status distinguishes bad credentials from other connection errors,
// which land in connection_error instead.
func CheckCredentials(ctx context.Context, dialer device.Dialer, h *hoststate.Host) {
	sess, err := dialer.Dial(ctx, h)
	if err != nil {
		if device.IsAuthError(err) {
			slog.Error("auth_failed", "host", h.Name, "username", h.Username)
			h.State.AuthStatus = hoststate.Bool(false)
			return
		}
		slog.Error("connection_failed", "host", h.Name, "error", err)
		h.State.ConnectionError = hoststate.String(err.Error())
		return
	}
	sess.Close()
	h.State.AuthStatus = hoststate.Bool(true)
}

// ResolveDNS looks the host name up and records the address.
func ResolveDNS(ctx context.Context, h *hoststate.Host) (string, bool) {
	name := strings.Split(h.Name, ":")[0]
	addrs, err := net.DefaultResolver.LookupHost(ctx, name)
	if err != nil || len(addrs) == 0 {
		slog.Error("dns_resolution_failed", "host", h.Name, "error", err)
		return "", false
	}
	h.State.DNSIP = hoststate.String(addrs[0])
	return addrs[0], true
}

var hostnameRe = regexp.MustCompile(`(?m)^hostname\s+(\S+)`)

// VerifyHostname confirms the device is the one the inventory says it is,
// guarding against stale DNS pointing the transfer at the wrong switch.
// DNS must agree with the inventory address, and when DNS cannot resolve,
// the device's own configured hostname must match the inventory name.
func VerifyHostname(ctx context.Context, sess device.Session, h *hoststate.Host) bool {
	if hoststate.BoolSet(h.State.HostnameVerified) {
		return true
	}
	h.State.HostnameVerified = hoststate.Bool(false)

	ip := hoststate.StringVal(h.State.DNSIP)
	if ip == "" {
		var resolved bool
		if ip, resolved = ResolveDNS(ctx, h); !resolved {
			result, err := sess.SendCommand(ctx, "show running-config | include ^hostname")
			if err != nil {
				slog.Error("hostname_read_failed", "host", h.Name, "error", err)
				return false
			}
			m := hostnameRe.FindStringSubmatch(result.Output)
			if m == nil {
				slog.Error("hostname_missing", "host", h.Name, "output", result.Output)
				return false
			}
			expected := strings.ToLower(strings.Split(h.Name, ".")[0])
			if strings.ToLower(m[1]) != expected {
				slog.Error("hostname_mismatch", "host", h.Name, "expected", expected, "actual", m[1])
				return false
			}
		}
	}

	// An inventory entry may carry the address directly; then name and
	// address differ and DNS must agree with the inventory.
	if ip != "" && h.Hostname != "" && h.Hostname != h.Name && ip != h.Hostname {
		slog.Error("dns_inventory_mismatch", "host", h.Name, "inventory", h.Hostname, "dns", ip)
		return false
	}

	h.State.HostnameVerified = hoststate.Bool(true)
	return true
}

// IsRouter reports whether a host is a router. Routers carry the core
// infrastructure marker in their inventory name and are never stacks.
func IsRouter(h *hoststate.Host) bool {
	return strings.Contains(h.Name, "cir")
}

// GetStackInfo resolves stack membership and stores it. Routers skip the
// device query outright.
func GetStackInfo(ctx context.Context, sess device.Session, h *hoststate.Host, force bool) error {
	if !force && h.State.StackInfo != nil {
		return nil
	}

	if IsRouter(h) {
		h.State.StackInfo = &hoststate.StackInfo{IsStack: false}
		return nil
	}

	result, err := sess.SendCommand(ctx, "show switch")
	if err != nil {
		return err
	}

	info := stack.ResolveOutput(result.Output)
	h.State.StackInfo = info
	slog.Info("stack_resolved", "host", h.Name,
		"is_stack", info.IsStack, "members", strings.Join(info.Members, ","), "master", info.Master)
	return nil
}

var imagePrefixes = []string{"flash", "bootflash", "bootvar"}

// parseSystemImage extracts the image file name from a
// "show version | include image" line, tolerating quoting and any of the
// flash path prefixes.
func parseSystemImage(output string) string {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) == 0 {
		return ""
	}
	name := strings.Trim(fields[len(fields)-1], `"`)
	for _, prefix := range imagePrefixes {
		if strings.Contains(name, prefix) {
			parts := strings.Split(name, ":")
			return parts[len(parts)-1]
		}
	}
	return name
}

// GetCurrentImage records the running system image and derives
// is_at_target by comparing it against the target image.
func GetCurrentImage(ctx context.Context, sess device.Session, h *hoststate.Host, force bool) error {
	if !force && h.State.CurrentImage != nil {
		return nil
	}

	result, err := sess.SendCommand(ctx, "show version | include image")
	if err != nil {
		return err
	}

	image := parseSystemImage(result.Output)
	if image == "" {
		slog.Error("system_image_unparseable", "host", h.Name, "output", result.Output)
		return nil
	}
	h.State.CurrentImage = hoststate.String(image)

	atTarget := false
	if primary := hoststate.StringVal(h.State.PrimaryImage); primary != "" {
		atTarget = primary == image
	}
	h.State.IsAtTarget = hoststate.Bool(atTarget)

	slog.Info("current_image", "host", h.Name, "image", image, "at_target", atTarget)
	return nil
}

var versionRe = regexp.MustCompile(`[Vv]ersion\s+(\S+?)[,\s]`)

// GetOSVersion records the running OS version string.
func GetOSVersion(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	result, err := sess.SendCommand(ctx, "show version | include Version")
	if err != nil {
		return err
	}

	m := versionRe.FindStringSubmatch(result.Output + " ")
	if m == nil {
		slog.Error("os_version_unparseable", "host", h.Name, "output", result.Output)
		return nil
	}
	h.State.OSVersion = hoststate.String(m[1])
	slog.Info("os_version", "host", h.Name, "version", m[1])
	return nil
}

// AtTargetVersion reports whether the running version satisfies the
// target image, either by exact image match or by version-string match
// against the image file name.
func AtTargetVersion(h *hoststate.Host) bool {
	primary := hoststate.StringVal(h.State.PrimaryImage)
	if primary == "" {
		return false
	}
	if hoststate.StringVal(h.State.CurrentImage) == primary {
		return true
	}
	if v := hoststate.StringVal(h.State.OSVersion); v != "" {
		return imagematch.MatchVersion(v, primary)
	}
	return false
}
