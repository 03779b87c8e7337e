// Package stack resolves switch stack topology from "show switch" output and
// knows the per-family flash naming conventions for stack members.
package stack

import (
	"regexp"
	"strings"

	"github.com/campus-netops/fleetup/pkg/hoststate"
)

// Member is one row of the switch table.
type Member struct {
	Number   string
	Role     string
	MAC      string
	Priority string
	Version  string
	State    string
}

var memberRe = regexp.MustCompile(
	`(?m)^\s*(\*?)\s*(\d+)\s+(\S+)\s+([0-9a-fA-F]{4}\.[0-9a-fA-F]{4}\.[0-9a-fA-F]{4})\s+(\S+)\s+(\S+)\s+(\S.*?)\s*$`)

// Unsupported reports whether the output indicates the device does not speak
// the stacking command at all. Such devices are standalone, not errors.
func Unsupported(output string) bool {
	return strings.TrimSpace(output) == "" ||
		strings.Contains(strings.ToLower(output), "invalid input")
}

// ParseShowSwitch extracts the member rows from raw "show switch" output.
func ParseShowSwitch(output string) []Member {
	var members []Member
	for _, m := range memberRe.FindAllStringSubmatch(output, -1) {
		members = append(members, Member{
			Number:   m[2],
			Role:     m[3],
			MAC:      m[4],
			Priority: m[5],
			Version:  m[6],
			State:    m[7],
		})
	}
	return members
}

// Resolve turns the member table into stack info. Provisioned slots are
// configuration placeholders without hardware behind them and are dropped;
// a device with at most one active member is standalone. The master is the
// first member whose role is "master" or "active".
func Resolve(members []Member) *hoststate.StackInfo {
	var active []Member
	for _, m := range members {
		if strings.EqualFold(m.State, "provisioned") {
			continue
		}
		active = append(active, m)
	}

	if len(active) <= 1 {
		return &hoststate.StackInfo{IsStack: false}
	}

	info := &hoststate.StackInfo{IsStack: true}
	for _, m := range active {
		info.Members = append(info.Members, m.Number)
		if info.Master == "" {
			switch strings.ToLower(m.Role) {
			case "master", "active":
				info.Master = m.Number
			}
		}
	}
	return info
}

// ResolveOutput parses and resolves in one step, treating unsupported output
// as a standalone device.
func ResolveOutput(output string) *hoststate.StackInfo {
	if Unsupported(output) {
		return &hoststate.StackInfo{IsStack: false}
	}
	return Resolve(ParseShowSwitch(output))
}

// Predicate short-circuits stack resolution for device classes that are
// known never to stack; a true result skips the device command entirely.
type Predicate func(*hoststate.Host) bool

// NamePredicate matches hosts whose name carries one of the given markers,
// the naming convention for router-class devices.
func NamePredicate(markers ...string) Predicate {
	return func(h *hoststate.Host) bool {
		name := strings.ToLower(h.Name)
		for _, marker := range markers {
			if marker != "" && strings.Contains(name, strings.ToLower(marker)) {
				return true
			}
		}
		return false
	}
}

// FlashName returns the flash device name for a stack member. The 2960
// hardware family exposes member flash as flashN, newer families as flash-N.
func FlashName(model, member string) string {
	if strings.Contains(model, "2960") {
		return "flash" + member
	}
	return "flash-" + member
}
