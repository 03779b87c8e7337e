package flash

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

// dir listing row, e.g.
//
//	7  -rw-   52428800   Mar 1 2021 10:22:04 +00:00  archive-cfg-0307.tar
var dirRowRe = regexp.MustCompile(
	`^\s*\d+\s+\S+\s+(\d+)\s+([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{4})\s+\S+(?:\s+\S+)?\s+(\S+)\s*$`)

// DeleteOldArchives removes archive files last modified before the given
// year. Zero keeps nothing back and deletes every archive file.
func DeleteOldArchives(ctx context.Context, sess device.Session, h *hoststate.Host, priorToYear int) error {
	result, err := sess.SendCommand(ctx, "dir")
	if err != nil {
		return err
	}

	deleted := 0
	for _, line := range strings.Split(result.Output, "\n") {
		m := dirRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[5]
		if !strings.HasPrefix(name, "archive") {
			continue
		}
		if priorToYear > 0 {
			year, err := strconv.Atoi(m[4])
			if err != nil || year >= priorToYear {
				continue
			}
		}
		if _, err := sess.SendCommand(ctx, "delete /force flash:/"+name); err != nil {
			slog.Error("archive_delete_failed", "host", h.Name, "file", name, "error", err)
			continue
		}
		deleted++
	}

	slog.Info("archives_deleted", "host", h.Name, "count", deleted)
	return nil
}
