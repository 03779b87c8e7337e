// Package reload schedules, cancels and verifies device reloads.
package reload

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

var timeRe = regexp.MustCompile(
	`^([01]\d|2[0-3]):([0-5]\d)\s([0-2]\d|3[01])\s(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)$`)

var shortMonths = map[string]int{"apr": 30, "jun": 30, "sep": 30, "nov": 30, "feb": 29}

// ValidTime reports whether a reload time is well formed: "HH:MM DD MON"
// with a day that exists in the named month. Leap years are not checked,
// feb 29 is accepted.
func ValidTime(reloadTime string) bool {
	m := timeRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(reloadTime)))
	if m == nil {
		slog.Error("reload_time_invalid", "reload_time", reloadTime, "want_format", "HH:MM DD MON")
		return false
	}

	day := int(m[3][0]-'0')*10 + int(m[3][1]-'0')
	if limit, short := shortMonths[m[4]]; short && day > limit {
		slog.Error("reload_time_invalid", "reload_time", reloadTime, "reason", "day exceeds month")
		return false
	}
	return true
}

// Schedule sets a timed reload. A host already at the target version is
// skipped unless force is set, as is one with the same time already
// scheduled and verified. The device's confirmation prompt is answered
// inline.
func Schedule(ctx context.Context, sess device.Session, h *hoststate.Host, reloadTime string, force bool) error {
	if !force && hoststate.BoolSet(h.State.IsAtTarget) {
		slog.Info("reload_skipped", "host", h.Name, "reason", "at_target")
		return nil
	}
	if reloadTime == "" {
		slog.Error("reload_time_missing", "host", h.Name)
		return nil
	}
	if !ValidTime(reloadTime) {
		return nil
	}
	if !force &&
		hoststate.StringVal(h.State.ReloadTime) == reloadTime &&
		hoststate.BoolSet(h.State.ReloadSet) {
		slog.Info("reload_skipped", "host", h.Name, "reason", "already_scheduled", "reload_time", reloadTime)
		return nil
	}

	result, err := sess.SendCommand(ctx, "reload at "+reloadTime+"\nyes\n\nshow reload\n")
	if err != nil {
		return err
	}

	slog.Info("reload_scheduled", "host", h.Name, "reload_time", reloadTime, "output", result.Output)
	h.State.ReloadTime = hoststate.String(reloadTime)
	return nil
}

// Now reloads the device immediately. Hosts already at the target are
// never reloaded.
func Now(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	values, ok := hoststate.GetRequired(h, hoststate.FieldIsAtTarget)
	if !ok {
		return nil
	}
	if values[0].(bool) {
		slog.Info("reload_skipped", "host", h.Name, "reason", "at_target")
		return nil
	}

	result, err := sess.SendCommand(ctx, "reload\nyes\n\n")
	if err != nil {
		return err
	}
	slog.Info("reload_issued", "host", h.Name, "output", result.Output)
	return nil
}

// CancelAtTarget removes a pending reload from hosts that reached the
// target version, leaving the schedule of hosts still waiting to upgrade
// untouched.
func CancelAtTarget(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	values, ok := hoststate.GetRequired(h, hoststate.FieldIsAtTarget)
	if !ok {
		return nil
	}
	if !values[0].(bool) {
		slog.Info("reload_cancel_skipped", "host", h.Name, "reason", "not_at_target")
		return nil
	}

	result, err := sess.SendCommand(ctx, "reload cancel")
	if err != nil {
		return err
	}
	slog.Info("reload_canceled", "host", h.Name, "output", result.Output)
	h.State.ReloadSet = hoststate.Bool(false)
	return nil
}

// tokenScheduled checks one reload-time token against the device output.
// Devices print single-digit days without the leading zero.
func tokenScheduled(output, token string) bool {
	token = strings.ToLower(token)
	if len(token) == 2 && token[0] == '0' {
		token = token[1:]
	}
	return strings.Contains(output, " "+token)
}

// Verify reads "show reload" and reconciles reload_set with the device:
// every token of the expected time must appear in the output. The flag
// moves in both directions so a cleared schedule is noticed.
func Verify(ctx context.Context, sess device.Session, h *hoststate.Host, force bool) error {
	if !force && hoststate.BoolSet(h.State.ReloadSet) {
		return nil
	}

	values, ok := hoststate.GetRequired(h, hoststate.FieldIsAtTarget)
	if !ok {
		return nil
	}
	if values[0].(bool) {
		slog.Info("reload_verify_skipped", "host", h.Name, "reason", "at_target")
		return nil
	}

	values, ok = hoststate.GetRequired(h, hoststate.FieldReloadTime)
	if !ok {
		return nil
	}
	reloadTime := values[0].(string)

	result, err := sess.SendCommand(ctx, "show reload")
	if err != nil {
		return err
	}

	output := strings.ToLower(result.Output)
	if strings.Contains(output, "no reload") {
		slog.Error("reload_not_scheduled", "host", h.Name, "output", result.Output)
		h.State.ReloadSet = hoststate.Bool(false)
		return nil
	}

	for _, token := range strings.Fields(reloadTime) {
		if !tokenScheduled(output, token) {
			slog.Error("reload_schedule_mismatch", "host", h.Name, "expected", reloadTime, "output", result.Output)
			h.State.ReloadSet = hoststate.Bool(false)
			return nil
		}
	}

	slog.Info("reload_verified", "host", h.Name, "reload_time", reloadTime)
	h.State.ReloadSet = hoststate.Bool(true)
	return nil
}

// CheckNone records whether a device has no reload pending. A pending
// reload on a host already at target is only worth a warning.
func CheckNone(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	values, ok := hoststate.GetRequired(h, hoststate.FieldIsAtTarget)
	if !ok {
		return nil
	}
	atTarget := values[0].(bool)

	result, err := sess.SendCommand(ctx, "show reload")
	if err != nil {
		return err
	}

	if !strings.Contains(strings.ToLower(result.Output), "no reload") {
		if atTarget {
			slog.Warn("reload_still_pending", "host", h.Name, "output", result.Output)
		}
		h.State.ReloadSet = hoststate.Bool(true)
		return nil
	}

	slog.Info("no_reload_pending", "host", h.Name)
	h.State.ReloadSet = hoststate.Bool(false)
	return nil
}
