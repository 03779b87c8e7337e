// Package flash inspects and maintains device flash: primary-image presence
// checks, deletion planning and execution, free-space checks, checksum
// verification and stack propagation of the target image.
package flash

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/hoststate"
	"github.com/campus-netops/fleetup/pkg/imagematch"
	"github.com/campus-netops/fleetup/pkg/stack"
)

// listingHasFile reports whether a raw flash listing names the file. Names
// are matched as whole tokens so column junk never produces a false hit.
func listingHasFile(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		for _, token := range strings.Fields(line) {
			if token == name {
				return true
			}
		}
	}
	return false
}

// CheckPrimaryInFlash records whether the target image is present in flash.
// With force false the check is skipped when a previous run already
// confirmed presence.
func CheckPrimaryInFlash(ctx context.Context, sess device.Session, h *hoststate.Host, force bool) error {
	if !force && hoststate.BoolSet(h.State.PrimaryImageInFlash) {
		return nil
	}

	values, ok := hoststate.GetRequired(h, hoststate.FieldPrimaryImage)
	if !ok {
		return nil
	}
	primary := values[0].(string)

	result, err := sess.SendCommand(ctx, "show flash:")
	if err != nil {
		return err
	}

	present := listingHasFile(result.Output, primary)
	h.State.PrimaryImageInFlash = hoststate.Bool(present)

	if present {
		slog.Info("primary_image_in_flash", "host", h.Name, "image", primary)
	} else {
		slog.Info("primary_image_not_in_flash", "host", h.Name, "image", primary)
	}
	return nil
}

// CheckPrimaryInFlashStack verifies the target image on every stack member
// and keeps the per-member confirmation list current. Members already
// confirmed are skipped unless force is set.
func CheckPrimaryInFlashStack(ctx context.Context, sess device.Session, h *hoststate.Host, force bool) error {
	values, ok := hoststate.GetRequired(h, hoststate.FieldPrimaryImage, hoststate.FieldStackInfo)
	if !ok {
		return nil
	}
	primary := values[0].(string)
	info := values[1].(*hoststate.StackInfo)

	if !info.IsStack {
		slog.Info("stack_flash_check_skipped", "host", h.Name, "reason", "not_a_stack")
		return nil
	}

	var failed []string
	for _, member := range info.Members {
		if !force && info.HasTarget(member) {
			continue
		}

		flashName := stack.FlashName(h.Model(), member)
		result, err := sess.SendCommand(ctx, "show "+flashName+":")
		if err != nil {
			return err
		}
		if !listingHasFile(result.Output, primary) {
			failed = append(failed, member)
			continue
		}
		info.MarkTarget(member)
	}

	if len(failed) > 0 {
		slog.Error("primary_image_missing_on_members", "host", h.Name, "members", strings.Join(failed, ","))
	}
	return nil
}

// PlanCleanup lists flash (per member for stacks) and records the deletable
// image set. It never deletes anything itself.
func PlanCleanup(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	values, ok := hoststate.GetRequired(h,
		hoststate.FieldPrimaryImage,
		hoststate.FieldCurrentImage,
		hoststate.FieldOSVersion,
		hoststate.FieldStackInfo,
	)
	if !ok {
		return nil
	}
	primary := values[0].(string)
	current := values[1].(string)
	osVersion := values[2].(string)
	info := values[3].(*hoststate.StackInfo)

	seen := make(map[string]struct{})
	var plan []string
	add := func(names []string) {
		for _, name := range names {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				plan = append(plan, name)
			}
		}
	}

	if info.IsStack {
		for _, member := range info.Members {
			flashName := stack.FlashName(h.Model(), member)
			result, err := sess.SendCommand(ctx, "show "+flashName+":")
			if err != nil {
				return err
			}
			add(imagematch.CandidatesFromListing(result.Output, primary, current, osVersion))
		}
	} else {
		result, err := sess.SendCommand(ctx, "show flash:")
		if err != nil {
			return err
		}
		add(imagematch.CandidatesFromListing(result.Output, primary, current, osVersion))
	}

	h.State.ImagesToDelete = plan
	if len(plan) > 0 {
		slog.Info("cleanup_planned", "host", h.Name, "images", strings.Join(plan, ","))
	} else {
		slog.Info("cleanup_nothing_to_delete", "host", h.Name)
	}
	return nil
}

// DeleteUnused executes the cleanup plan. Cleanup may run long after
// planning, so each file is re-checked against the primary and current
// image immediately before deletion.
func DeleteUnused(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	values, ok := hoststate.GetRequired(h, hoststate.FieldImagesToDelete, hoststate.FieldStackInfo)
	if !ok {
		return nil
	}
	plan := values[0].([]string)
	info := values[1].(*hoststate.StackInfo)

	primary := hoststate.StringVal(h.State.PrimaryImage)
	current := hoststate.StringVal(h.State.CurrentImage)

	del := func(flashName, image string) error {
		if image == primary || image == current {
			slog.Warn("cleanup_protected_image_skipped", "host", h.Name, "image", image)
			return nil
		}
		_, err := sess.SendCommand(ctx, "delete /recursive /force "+flashName+":"+image)
		return err
	}

	if info.IsStack {
		for _, member := range info.Members {
			flashName := stack.FlashName(h.Model(), member)
			for _, image := range plan {
				if err := del(flashName, image); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, image := range plan {
		if err := del("flash", image); err != nil {
			return err
		}
	}
	return nil
}

var freeBytesRe = regexp.MustCompile(`\((\d+)\s+bytes free\)`)

// CheckFreeSpace compares available flash against the primary image size.
func CheckFreeSpace(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	values, ok := hoststate.GetRequired(h, hoststate.FieldPrimaryImageSize)
	if !ok {
		return nil
	}
	needed := values[0].(int64)

	result, err := sess.SendCommand(ctx, "dir")
	if err != nil {
		return err
	}

	m := freeBytesRe.FindStringSubmatch(result.Output)
	if m == nil {
		slog.Error("flash_free_space_unparseable", "host", h.Name)
		return nil
	}
	free, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		slog.Error("flash_free_space_unparseable", "host", h.Name, "value", m[1])
		return nil
	}

	enough := free >= needed
	h.State.FlashSpaceAvailable = hoststate.Bool(enough)
	if !enough {
		slog.Info("flash_space_short", "host", h.Name, "missing_bytes", needed-free)
	}
	return nil
}

// PropagateToStack copies the target image from the master's flash to every
// member not yet confirmed to hold it. An existing-file prompt is answered
// with "n" so a partly copied member is left alone.
func PropagateToStack(ctx context.Context, sess device.Session, h *hoststate.Host) error {
	values, ok := hoststate.GetRequired(h, hoststate.FieldPrimaryImage, hoststate.FieldStackInfo)
	if !ok {
		return nil
	}
	primary := values[0].(string)
	info := values[1].(*hoststate.StackInfo)

	if !info.IsStack {
		slog.Info("stack_propagation_skipped", "host", h.Name, "reason", "not_a_stack")
		return nil
	}

	model := h.Model()
	masterFlash := stack.FlashName(model, info.Master)
	for _, member := range info.Members {
		if member == info.Master || info.HasTarget(member) {
			continue
		}

		memberFlash := stack.FlashName(model, member)
		slog.Info("stack_copy_start", "host", h.Name, "member", member, "image", primary)

		result, err := sess.SendCommand(ctx,
			"copy "+masterFlash+":"+primary+" "+memberFlash+":"+primary+"\n\n")
		if err != nil {
			return err
		}
		if result.Contains("There is a file already existing with this name") {
			if _, err := sess.SendCommand(ctx, "n"); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkMD5Output validates one "verify /md5" response: the device must
// report completion and echo the expected digest.
func checkMD5Output(host string, output, md5 string) bool {
	if !strings.Contains(strings.ToLower(output), "done!") {
		slog.Error("md5_verify_incomplete", "host", host, "output", output)
		return false
	}
	if strings.Contains(output, md5) {
		slog.Info("md5_verified", "host", host, "md5", md5)
		return true
	}
	slog.Error("md5_mismatch", "host", host, "expected", md5)
	return false
}

// VerifyMD5 checks the target image checksum, on every member for stacks.
// A full-stack pass also confirms primary_image_in_flash.
func VerifyMD5(ctx context.Context, sess device.Session, h *hoststate.Host, force bool) error {
	if !force && hoststate.BoolSet(h.State.PrimaryImageMD5Verified) {
		return nil
	}

	values, ok := hoststate.GetRequired(h,
		hoststate.FieldPrimaryImage,
		hoststate.FieldPrimaryImageMD5,
		hoststate.FieldStackInfo,
	)
	if !ok {
		return nil
	}
	primary := values[0].(string)
	md5 := values[1].(string)
	info := values[2].(*hoststate.StackInfo)

	h.State.PrimaryImageMD5Verified = hoststate.Bool(false)

	if info.IsStack {
		allOK := true
		for _, member := range info.Members {
			flashName := stack.FlashName(h.Model(), member)
			result, err := sess.SendCommand(ctx, "verify /md5 "+flashName+":"+primary)
			if err != nil {
				return err
			}
			if !checkMD5Output(h.Name+":"+member, result.Output, md5) {
				allOK = false
			}
		}
		if allOK {
			h.State.PrimaryImageMD5Verified = hoststate.Bool(true)
			h.State.PrimaryImageInFlash = hoststate.Bool(true)
		}
		return nil
	}

	result, err := sess.SendCommand(ctx, "verify /md5 flash:"+primary)
	if err != nil {
		return err
	}
	if checkMD5Output(h.Name, result.Output, md5) {
		h.State.PrimaryImageMD5Verified = hoststate.Bool(true)
		// A verified checksum implies the file is there.
		h.State.PrimaryImageInFlash = hoststate.Bool(true)
	}
	return nil
}
