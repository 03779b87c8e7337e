// Package hoststate holds the typed per-host state registry. Every workflow
// step reads its prerequisites from here through GetRequired and writes its
// outcome back, so a re-run can skip work that already completed.
package hoststate

import (
	"slices"
	"strconv"
)

// StackInfo describes the stack topology of a device. When IsStack is false
// the remaining fields are ignored.
type StackInfo struct {
	IsStack       bool     `json:"is_stack"`
	Members       []string `json:"stack_members,omitempty"`
	Master        string   `json:"stack_master,omitempty"`
	TargetInFlash []string `json:"target_in_flash,omitempty"`
}

// Valid checks the stack invariants: a stack has at least one member and the
// master is one of them.
func (s *StackInfo) Valid() bool {
	if s == nil {
		return false
	}
	if !s.IsStack {
		return true
	}
	if len(s.Members) == 0 {
		return false
	}
	return s.Master == "" || slices.Contains(s.Members, s.Master)
}

// HasTarget reports whether a member has been confirmed to hold the target
// image in its flash.
func (s *StackInfo) HasTarget(member string) bool {
	return slices.Contains(s.TargetInFlash, member)
}

// MarkTarget records that a member holds the target image.
func (s *StackInfo) MarkTarget(member string) {
	if !s.HasTarget(member) {
		s.TargetInFlash = append(s.TargetInFlash, member)
	}
}

// State is the fixed-shape record of well-known upgrade-state fields. Each
// field is owned by exactly one workflow step; nil means the owning step has
// not run yet. The JSON encoding is the audit-trail format persisted per host.
type State struct {
	AuthStatus              *bool      `json:"auth_status,omitempty"`
	ConnectionError         *string    `json:"connection_error,omitempty"`
	HostnameVerified        *bool      `json:"hostname_verified,omitempty"`
	DNSIP                   *string    `json:"dns_ip,omitempty"`
	StackInfo               *StackInfo `json:"stack_info,omitempty"`
	CurrentImage            *string    `json:"current_image,omitempty"`
	OSVersion               *string    `json:"os_version,omitempty"`
	IsAtTarget              *bool      `json:"is_at_target,omitempty"`
	PrimaryImage            *string    `json:"primary_image,omitempty"`
	PrimaryImageMD5         *string    `json:"primary_image_md5,omitempty"`
	PrimaryImageSize        *int64     `json:"primary_image_size,omitempty"`
	PrimaryImageInFlash     *bool      `json:"primary_image_in_flash,omitempty"`
	PrimaryImageMD5Verified *bool      `json:"primary_image_md5_verified,omitempty"`
	FlashSpaceAvailable     *bool      `json:"flash_space_available,omitempty"`
	ImagesToDelete          []string   `json:"images_to_delete,omitempty"`
	BootStatementSet        *bool      `json:"boot_statement_set,omitempty"`
	ReloadTime              *string    `json:"reload_time,omitempty"`
	ReloadSet               *bool      `json:"reload_set,omitempty"`
	SCPEnabled              *bool      `json:"scp_enabled,omitempty"`
	BulkModeSupported       *bool      `json:"supports_ssh_bulk_mode,omitempty"`
	BulkModeEnabled         *bool      `json:"ssh_bulk_mode,omitempty"`
	PingStatus              *bool      `json:"ping_status,omitempty"`
	MonitorStatus           *bool      `json:"monitor_status,omitempty"`
	Inactive                *bool      `json:"inactive,omitempty"`
}

// Host is one device: connection parameters, inventory attributes and the
// mutable upgrade state. A host is owned by exactly one worker during a fleet
// run, so State needs no locking.
type Host struct {
	Name     string         `yaml:"-"`
	Hostname string         `yaml:"hostname"`
	Port     int            `yaml:"port,omitempty"`
	Username string         `yaml:"username,omitempty"`
	Password string         `yaml:"password,omitempty"`
	Platform string         `yaml:"platform,omitempty"`
	Groups   []string       `yaml:"groups,omitempty"`
	Attrs    map[string]any `yaml:"data,omitempty"`

	State State `yaml:"-"`
}

// Target returns the address to connect to: the inventory hostname when
// set, otherwise the host name itself.
func (h *Host) Target() string {
	if h.Hostname != "" {
		return h.Hostname
	}
	return h.Name
}

// SSHPort returns the configured SSH port as a string, defaulting to 22.
func (h *Host) SSHPort() string {
	if h.Port > 0 {
		return strconv.Itoa(h.Port)
	}
	return "22"
}

// Attr looks up an inventory attribute, descending into nested maps for
// dotted paths such as "device_type.model".
func (h *Host) Attr(path string) (any, bool) {
	cur := any(h.Attrs)
	for path != "" {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		key := path
		if i := indexByte(path, '.'); i >= 0 {
			key, path = path[:i], path[i+1:]
		} else {
			path = ""
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// AttrString returns a string inventory attribute or "" when absent.
func (h *Host) AttrString(path string) string {
	v, ok := h.Attr(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Model returns the device type model from the inventory attributes.
func (h *Host) Model() string {
	return h.AttrString("device_type.model")
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Ptr helpers for the optional State fields.

func Bool(v bool) *bool       { return &v }
func String(v string) *string { return &v }
func Int64(v int64) *int64    { return &v }

// BoolSet reports whether an optional bool field is present and true.
func BoolSet(p *bool) bool { return p != nil && *p }

// StringVal returns the value of an optional string field or "".
func StringVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
