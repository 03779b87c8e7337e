// Package inventory loads the fleet from YAML documents: hosts, groups and
// defaults, with group attribute inheritance. It also owns run metadata and
// the JSON failure reports a fleet run produces.
package inventory

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/campus-netops/fleetup/pkg/errors"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

const (
	hostsFile    = "hosts.yaml"
	groupsFile   = "groups.yaml"
	defaultsFile = "defaults.yaml"
)

// Group carries connection parameters and attributes shared by its member
// hosts. Host values win over group values, groups win over defaults, and
// among a host's groups the first match wins.
type Group struct {
	Hostname string         `yaml:"hostname,omitempty"`
	Port     int            `yaml:"port,omitempty"`
	Username string         `yaml:"username,omitempty"`
	Password string         `yaml:"password,omitempty"`
	Platform string         `yaml:"platform,omitempty"`
	Attrs    map[string]any `yaml:"data,omitempty"`
}

// ImageDescriptor names the target image for a device group.
type ImageDescriptor struct {
	Image string `yaml:"primary_image" json:"primary_image"`
	MD5   string `yaml:"primary_image_md5" json:"primary_image_md5"`
	Size  int64  `yaml:"primary_image_size" json:"primary_image_size"`
}

// Inventory is the loaded fleet.
type Inventory struct {
	Hosts  map[string]*hoststate.Host
	Groups map[string]*Group
}

// Load reads the three inventory documents from a directory and resolves
// group inheritance. groups.yaml and defaults.yaml are optional.
func Load(dir string) (*Inventory, error) {
	inv := &Inventory{
		Hosts:  make(map[string]*hoststate.Host),
		Groups: make(map[string]*Group),
	}

	if err := readYAML(filepath.Join(dir, hostsFile), &inv.Hosts); err != nil {
		return nil, errors.Wrap(err, "load hosts")
	}
	for name, h := range inv.Hosts {
		h.Name = name
	}

	if err := readOptionalYAML(filepath.Join(dir, groupsFile), &inv.Groups); err != nil {
		return nil, errors.Wrap(err, "load groups")
	}

	var defaults Group
	if err := readOptionalYAML(filepath.Join(dir, defaultsFile), &defaults); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	for name, h := range inv.Hosts {
		inv.resolve(h, &defaults)
		if !hoststate.ValidateAttrs(h) {
			slog.Warn("host_attrs_invalid", "host", name)
		}
	}
	return inv, nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

func readOptionalYAML(path string, v any) error {
	err := readYAML(path, v)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// resolve fills a host's blank connection parameters from its groups in
// order, then from the defaults, and layers attribute maps the same way.
func (inv *Inventory) resolve(h *hoststate.Host, defaults *Group) {
	chain := make([]*Group, 0, len(h.Groups)+1)
	for _, name := range h.Groups {
		if g, ok := inv.Groups[name]; ok {
			chain = append(chain, g)
		}
	}
	chain = append(chain, defaults)

	for _, g := range chain {
		if h.Username == "" {
			h.Username = g.Username
		}
		if h.Password == "" {
			h.Password = g.Password
		}
		if h.Platform == "" {
			h.Platform = g.Platform
		}
		if h.Port == 0 {
			h.Port = g.Port
		}
	}

	// Attrs: walk the chain outside-in so closer sources overwrite.
	merged := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		mergeAttrs(merged, chain[i].Attrs)
	}
	mergeAttrs(merged, h.Attrs)
	h.Attrs = merged
}

func mergeAttrs(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeAttrs(existing, sub)
				continue
			}
			cp := make(map[string]any, len(sub))
			mergeAttrs(cp, sub)
			dst[k] = cp
			continue
		}
		dst[k] = v
	}
}

// Names returns the host names in stable order.
func (inv *Inventory) Names() []string {
	names := make([]string, 0, len(inv.Hosts))
	for name := range inv.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sorted returns the hosts in name order.
func (inv *Inventory) Sorted() []*hoststate.Host {
	hosts := make([]*hoststate.Host, 0, len(inv.Hosts))
	for _, name := range inv.Names() {
		hosts = append(hosts, inv.Hosts[name])
	}
	return hosts
}

// Filter returns a new inventory holding only the hosts the predicate
// keeps. Groups are shared, not copied.
func (inv *Inventory) Filter(keep func(*hoststate.Host) bool) *Inventory {
	out := &Inventory{
		Hosts:  make(map[string]*hoststate.Host),
		Groups: inv.Groups,
	}
	for name, h := range inv.Hosts {
		if keep(h) {
			out.Hosts[name] = h
		}
	}
	return out
}

// RemoveByPrefix drops every host whose name starts with one of the
// prefixes and returns the removed names.
func (inv *Inventory) RemoveByPrefix(prefixes ...string) []string {
	var removed []string
	for name := range inv.Hosts {
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				removed = append(removed, name)
				delete(inv.Hosts, name)
				break
			}
		}
	}
	sort.Strings(removed)
	return removed
}

// AssignImages seeds each host's target-image fields from the descriptor
// of its first matching group. Hosts with no matching group are returned
// so the caller can report them.
func (inv *Inventory) AssignImages(byGroup map[string]ImageDescriptor) []string {
	var unmatched []string
	for _, h := range inv.Sorted() {
		if !assignImage(h, byGroup) {
			unmatched = append(unmatched, h.Name)
		}
	}
	return unmatched
}

func assignImage(h *hoststate.Host, byGroup map[string]ImageDescriptor) bool {
	for _, group := range h.Groups {
		desc, ok := byGroup[group]
		if !ok {
			continue
		}
		h.State.PrimaryImage = hoststate.String(desc.Image)
		h.State.PrimaryImageMD5 = hoststate.String(desc.MD5)
		if desc.Size > 0 {
			h.State.PrimaryImageSize = hoststate.Int64(desc.Size)
		}
		return true
	}
	return false
}

// CleanHostname normalizes a device name: lowercase, stack line suffix
// stripped, domain appended when missing.
func CleanHostname(name, domain string) string {
	name = strings.ToLower(strings.Split(name, ":")[0])
	if domain == "" || strings.Contains(name, "."+domain) {
		return name
	}
	return name + "." + domain
}
