package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/campus-netops/fleetup/internal/config"
	"github.com/campus-netops/fleetup/pkg/db"
	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/errors"
	"github.com/campus-netops/fleetup/pkg/hoststate"
	"github.com/campus-netops/fleetup/pkg/inventory"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(cfg *config.Config) error {
	for _, dir := range []string{
		filepath.Dir(cfg.SQLitePath),
		filepath.Dir(cfg.FSMDBPath),
		cfg.ReportsDir,
		cfg.ImageFolder,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return nil
}

// loadImageDescriptors reads the per-group target image document from the
// inventory directory.
func loadImageDescriptors(cfg *config.Config) (map[string]inventory.ImageDescriptor, error) {
	path := filepath.Join(cfg.InventoryDir, "images.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read image descriptors")
	}
	byGroup := make(map[string]inventory.ImageDescriptor)
	if err := yaml.Unmarshal(data, &byGroup); err != nil {
		return nil, errors.Wrap(err, "parse image descriptors")
	}
	return byGroup, nil
}

// loadInventory loads and resolves the fleet, assigns target images per
// group and applies the configured credentials to hosts that carry none.
// Returns the inventory and its name for report files.
func loadInventory(cfg *config.Config, hostPrefix string) (*inventory.Inventory, string, error) {
	inv, err := inventory.Load(cfg.InventoryDir)
	if err != nil {
		return nil, "", err
	}

	if hostPrefix != "" {
		inv = inv.Filter(func(h *hoststate.Host) bool {
			return strings.HasPrefix(h.Name, hostPrefix)
		})
	}

	byGroup, err := loadImageDescriptors(cfg)
	if err != nil {
		return nil, "", err
	}
	if unmatched := inv.AssignImages(byGroup); len(unmatched) > 0 {
		slog.Warn("hosts_without_image_descriptor", "hosts", strings.Join(unmatched, ","))
	}

	for _, h := range inv.Hosts {
		if h.Username == "" {
			h.Username = cfg.Username
		}
		if h.Password == "" {
			h.Password = cfg.Password
		}
	}

	name := inventoryName(cfg, hostPrefix)
	return inv, name, nil
}

// inventoryName resolves the name used in report files: the saved metadata
// document when present, otherwise a fresh timestamped record.
func inventoryName(cfg *config.Config, hostPrefix string) string {
	metaPath := filepath.Join(cfg.InventoryDir, "metadata.yaml")
	if meta, err := inventory.LoadMetadata(metaPath); err == nil && meta.Name != "" {
		return meta.Name
	}

	filter := map[string]string{}
	if hostPrefix != "" {
		filter["host_prefix"] = hostPrefix
	}
	meta := inventory.NewMetadata("", filter)
	if err := meta.Save(metaPath); err != nil {
		slog.Warn("metadata_save_failed", "error", err)
	}
	return meta.Name
}

// forEachHost dials every active host with bounded concurrency, runs fn
// with the open session and persists the host state afterwards. Per-host
// failures are collected, not fatal to the rest of the fleet.
func forEachHost(ctx context.Context, cfg *config.Config, inv *inventory.Inventory,
	repo *db.Repository, invName string,
	fn func(ctx context.Context, sess device.Session, h *hoststate.Host) error) map[string]error {

	dialer := &device.SSHDialer{}

	var failed sync.Map
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for _, h := range inv.Sorted() {
		if hoststate.BoolSet(h.State.Inactive) {
			continue
		}
		g.Go(func() error {
			sess, err := dialer.Dial(ctx, h)
			if err != nil {
				slog.Error("connection_failed", "host", h.Name, "error", err)
				failed.Store(h.Name, err)
				return nil
			}
			defer sess.Close()

			if err := fn(ctx, sess, h); err != nil {
				slog.Error("host_operation_failed", "host", h.Name, "error", err)
				failed.Store(h.Name, err)
			}
			if repo != nil {
				if err := repo.SaveState(h, invName); err != nil {
					slog.Error("state_persist_failed", "host", h.Name, "error", err)
				}
			}
			return nil
		})
	}
	g.Wait()

	out := make(map[string]error)
	failed.Range(func(k, v any) bool {
		out[k.(string)] = v.(error)
		return true
	})
	return out
}
