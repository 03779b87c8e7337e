package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campus-netops/fleetup/internal/config"
	"github.com/campus-netops/fleetup/pkg/db"
	"github.com/campus-netops/fleetup/pkg/errors"
	"github.com/campus-netops/fleetup/pkg/monitor"
	"github.com/campus-netops/fleetup/pkg/upgrade"
)

var connectivityPrefix string

var connectivityCmd = &cobra.Command{
	Use:   "connectivity",
	Short: "Cross-check fleet reachability against the monitoring system",
	Long: `Probes every host's SSH port and compares the result with the monitoring
system's view. Hosts down in both are marked inactive so upgrade runs skip
them; disagreements between the two views are reported.`,
	RunE: runConnectivity,
}

func init() {
	rootCmd.AddCommand(connectivityCmd)
	connectivityCmd.Flags().StringVar(&connectivityPrefix, "prefix", "", "Only check hosts whose name starts with this prefix")
}

func runConnectivity(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := ensureDirectories(cfg); err != nil {
		return err
	}

	inv, invName, err := loadInventory(cfg, connectivityPrefix)
	if err != nil {
		return errors.Wrap(err, "inventory load failed")
	}

	var provider monitor.StatusProvider
	if cfg.MonitorURL != "" {
		provider = &monitor.HTTPProvider{
			BaseURL:  cfg.MonitorURL,
			Username: cfg.MonitorUsername,
			Password: cfg.MonitorPassword,
		}
	}

	check := &upgrade.ConnectivityCheck{
		Inventory:     inv,
		InventoryName: invName,
		Provider:      provider,
		Domain:        cfg.Domain,
		ReportsDir:    cfg.ReportsDir,
		Concurrency:   cfg.Concurrency,
	}

	ok, err := check.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "connectivity check failed")
	}

	// Persist the inactive markers so upgrade runs skip those hosts.
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()
	for _, h := range inv.Sorted() {
		if err := repo.SaveState(h, invName); err != nil {
			return errors.Wrap(err, "state persist failed")
		}
	}

	if !ok {
		return fmt.Errorf("inactive hosts found, see %s", cfg.ReportsDir)
	}

	fmt.Println("All hosts reachable")
	return nil
}
