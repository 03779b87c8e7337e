// Package transfer moves the target image onto devices and manages the
// device-side transfer prerequisites: the SCP server and SSH bulk mode.
package transfer

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

var (
	enableSCPCommands  = []string{"line vty 0 4", "exec-timeout 360 0", "ip scp server enable"}
	disableSCPCommands = []string{"line vty 0 4", "exec-timeout 30 0", "no ip scp server enable"}
)

// EnableSCP turns on the device's SCP server and stretches the exec
// timeout so a slow image copy is not cut off mid-transfer.
func EnableSCP(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	if _, err := sess.SendConfig(ctx, enableSCPCommands); err != nil {
		slog.Error("scp_enable_failed", "host", h.Name, "error", err)
		return nil
	}
	h.State.SCPEnabled = hoststate.Bool(true)
	return nil
}

// DisableSCP turns the SCP server back off and restores the 30 minute
// exec timeout.
func DisableSCP(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	if _, err := sess.SendConfig(ctx, disableSCPCommands); err != nil {
		return err
	}
	h.State.SCPEnabled = hoststate.Bool(false)
	return nil
}

// CheckBulkModeSupport records whether the device supports SSH bulk mode.
// The 2960 family does not have the command.
func CheckBulkModeSupport(h *hoststate.Host) {
	supported := !strings.Contains(h.Model(), "2960")
	h.State.BulkModeSupported = hoststate.Bool(supported)
}

// EnableBulkMode turns on SSH bulk mode, which speeds up large SCP
// transfers considerably. Failures are logged and tolerated since the
// transfer works without it, only slower.
func EnableBulkMode(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	if !hoststate.BoolSet(h.State.BulkModeSupported) {
		slog.Info("bulk_mode_skipped", "host", h.Name, "reason", "not_supported")
		return nil
	}
	if _, err := sess.SendConfig(ctx, []string{"ip ssh bulk-mode"}); err != nil {
		slog.Warn("bulk_mode_enable_failed", "host", h.Name, "error", err)
		return nil
	}
	h.State.BulkModeEnabled = hoststate.Bool(true)
	return nil
}

// DisableBulkMode turns SSH bulk mode back off after the transfer.
func DisableBulkMode(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	if !hoststate.BoolSet(h.State.BulkModeSupported) {
		return nil
	}
	if _, err := sess.SendConfig(ctx, []string{"no ip ssh bulk-mode"}); err != nil {
		slog.Warn("bulk_mode_disable_failed", "host", h.Name, "error", err)
		return nil
	}
	h.State.BulkModeEnabled = hoststate.Bool(false)
	return nil
}

// Image copies the target image from the local image folder to the
// device. Hosts already at the target version or already holding the
// image in flash are skipped.
func Image(ctx context.Context, sess device.Session, h *hoststate.Host, imageFolder string) error {
	values, ok := hoststate.GetRequired(h,
		hoststate.FieldPrimaryImage,
		hoststate.FieldPrimaryImageInFlash,
		hoststate.FieldIsAtTarget,
	)
	if !ok {
		return nil
	}
	primary := values[0].(string)
	inFlash := values[1].(bool)
	atTarget := values[2].(bool)

	if atTarget {
		slog.Info("transfer_skipped", "host", h.Name, "reason", "at_target")
		return nil
	}
	if inFlash {
		slog.Info("transfer_skipped", "host", h.Name, "reason", "already_in_flash", "image", primary)
		return nil
	}

	localPath := filepath.Join(imageFolder, primary)
	slog.Info("transfer_start", "host", h.Name, "image", primary)

	if err := sess.TransferFile(ctx, localPath, primary); err != nil {
		return err
	}

	slog.Info("transfer_complete", "host", h.Name, "image", primary)
	return nil
}
