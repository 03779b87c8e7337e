// Package boot sets and verifies device boot statements. Switches and
// routers use different boot-variable schemes, so each family has its own
// set/verify pair; both only mark boot_statement_set after a successful
// persist and re-read.
package boot

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

// Boot-variable line shapes per OS family, as printed by "show bootvar".
var bootStatementPatterns = map[string]string{
	"ios":    `(?m)^BOOT path-list.*?:flash.*?:`,
	"ios-xe": `(?m)^BOOT variable =\s*.*?flash.*?:`,
}

func flashPath(primary, current string) string {
	path := "flash:" + primary
	if current != "" {
		path += ";flash:" + current
	}
	return path
}

// SetSwitch configures the boot statement on a switch, using the
// switch-all form for stacks, persists it and verifies the result.
// boot_statement_set stays unset on any failure so a later run retries.
func SetSwitch(ctx context.Context, sess device.Session, h *hoststate.Host, force bool) error {
	values, ok := hoststate.GetRequired(h,
		hoststate.FieldPrimaryImage,
		hoststate.FieldCurrentImage,
		hoststate.FieldStackInfo,
	)
	if !ok {
		return nil
	}
	primary := values[0].(string)
	current := values[1].(string)
	info := values[2].(*hoststate.StackInfo)

	if !force && hoststate.BoolSet(h.State.BootStatementSet) {
		slog.Info("boot_statement_already_set", "host", h.Name)
		return nil
	}

	path := flashPath(primary, current)
	commands := []string{"no boot system", "boot system " + path}
	if info.IsStack {
		commands = []string{"no boot system switch all", "boot system switch all " + path}
	}

	slog.Info("boot_statement_set_start", "host", h.Name, "commands", strings.Join(commands, "; "))

	if _, err := sess.SendConfig(ctx, commands); err != nil {
		return err
	}
	if err := sess.SaveConfig(ctx); err != nil {
		slog.Error("boot_statement_persist_failed", "host", h.Name, "error", err)
		return nil
	}

	verified, err := VerifySwitch(ctx, sess, h)
	if err != nil {
		return err
	}
	if !verified {
		slog.Error("boot_statement_not_reflected", "host", h.Name, "commands", strings.Join(commands, "; "))
		return nil
	}

	h.State.BootStatementSet = hoststate.Bool(true)
	return nil
}

// VerifySwitch re-reads the boot configuration and requires the primary
// image path in it. The fallback entry is not required since a device that
// lost it still boots the target.
func VerifySwitch(ctx context.Context, sess device.Session, h *hoststate.Host) (bool, error) {
	values, ok := hoststate.GetRequired(h, hoststate.FieldPrimaryImage)
	if !ok {
		return false, nil
	}
	primary := values[0].(string)

	result, err := sess.SendCommand(ctx, "show boot system")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(result.Output) == "" {
		slog.Error("boot_statement_missing", "host", h.Name)
		return false, nil
	}

	if !strings.Contains(result.Output, "flash:"+primary) {
		slog.Error("boot_statement_mismatch", "host", h.Name, "output", result.Output)
		return false, nil
	}

	slog.Info("boot_statement_verified", "host", h.Name)
	return true, nil
}

// SetRouter configures router boot statements: one bootflash line for the
// target and one for the running image as fallback.
func SetRouter(ctx context.Context, sess device.Session, h *hoststate.Host, force bool) error {
	values, ok := hoststate.GetRequired(h,
		hoststate.FieldPrimaryImage,
		hoststate.FieldCurrentImage,
	)
	if !ok {
		return nil
	}
	primary := values[0].(string)
	current := values[1].(string)

	if !force && hoststate.BoolSet(h.State.BootStatementSet) {
		slog.Info("boot_statement_already_set", "host", h.Name)
		return nil
	}

	commands := []string{
		"no boot system",
		"boot system bootflash:" + primary,
		"boot system bootflash:" + current,
	}

	slog.Info("boot_statement_set_start", "host", h.Name, "commands", strings.Join(commands, "; "))

	if _, err := sess.SendConfig(ctx, commands); err != nil {
		return err
	}
	if err := sess.SaveConfig(ctx); err != nil {
		slog.Error("boot_statement_persist_failed", "host", h.Name, "error", err)
		return nil
	}

	verified, err := VerifyRouter(ctx, sess, h)
	if err != nil {
		return err
	}
	if !verified {
		slog.Error("boot_statement_not_reflected", "host", h.Name, "commands", strings.Join(commands, "; "))
		return nil
	}

	h.State.BootStatementSet = hoststate.Bool(true)
	return nil
}

// VerifyRouter checks "show bootvar" against the platform's boot-variable
// shape. The regexes tolerate alternate entries before and after the
// primary, and an optional current-image entry after it.
func VerifyRouter(ctx context.Context, sess device.Session, h *hoststate.Host) (bool, error) {
	values, ok := hoststate.GetRequired(h,
		hoststate.FieldPrimaryImage,
		hoststate.FieldCurrentImage,
	)
	if !ok {
		return false, nil
	}
	primary := values[0].(string)
	current := values[1].(string)

	platform := strings.ToLower(h.Platform)
	if platform != "ios" && platform != "ios-xe" {
		slog.Error("boot_verify_unsupported_platform", "host", h.Name, "platform", h.Platform)
		return false, nil
	}

	result, err := sess.SendCommand(ctx, "show bootvar")
	if err != nil {
		return false, err
	}

	for _, statement := range bootStatementPatterns {
		pattern := regexp.MustCompile(
			statement + regexp.QuoteMeta(primary) +
				`(?:,.*?;|;)(?:.*?flash:` + regexp.QuoteMeta(current) + `(?:,.*?;|;))?`)
		if m := pattern.FindString(result.Output); m != "" {
			slog.Info("bootvar_verified", "host", h.Name, "matched", m)
			return true, nil
		}
	}

	slog.Error("bootvar_mismatch", "host", h.Name, "target", primary, "output", result.Output)
	return false, nil
}
