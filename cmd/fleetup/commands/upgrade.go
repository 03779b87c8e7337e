package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/campus-netops/fleetup/internal/config"
	"github.com/campus-netops/fleetup/pkg/db"
	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/errors"
	"github.com/campus-netops/fleetup/pkg/upgrade"
)

var (
	upgradeForce  bool
	upgradePrefix string
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Distribute the target firmware image across the fleet",
	Long: `Runs the staged transfer workflow on every active host: flash cleanup,
SCP transfer, stack propagation and checksum verification. Hosts already at
the target version or already holding a verified image are passed over.`,
	RunE: runUpgrade,
}

func init() {
	rootCmd.AddCommand(upgradeCmd)
	upgradeCmd.Flags().BoolVar(&upgradeForce, "force", false, "Re-run checks that completed in a previous run")
	upgradeCmd.Flags().StringVar(&upgradePrefix, "prefix", "", "Only work on hosts whose name starts with this prefix")
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	if err := ensureDirectories(cfg); err != nil {
		return err
	}

	inv, invName, err := loadInventory(cfg, upgradePrefix)
	if err != nil {
		return errors.Wrap(err, "inventory load failed")
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := upgrade.NewMachine(upgrade.MachineConfig{
		Dialer:            &device.SSHDialer{},
		Repo:              repo,
		InventoryName:     invName,
		ImageFolder:       cfg.ImageFolder,
		SkipDNSCheck:      cfg.SkipDNSCheck,
		Force:             upgradeForce,
		MaxRetries:        cfg.FSMMaxRetries,
		ArchiveCutoffYear: cfg.ArchiveCutoffYear,
	})
	if err := machine.Register(ctx, manager); err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	runner := &upgrade.Runner{
		Machine:          machine,
		Manager:          manager,
		Repo:             repo,
		Inventory:        inv,
		InventoryName:    invName,
		ReportsDir:       cfg.ReportsDir,
		Concurrency:      cfg.Concurrency,
		FallbackUsername: cfg.FallbackUsername,
		FallbackPassword: cfg.FallbackPassword,
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "fleet run failed")
	}

	fmt.Printf("Hosts: %d  Failed: %d  Auth failures: %d\n",
		summary.Total, len(summary.Failed), len(summary.FailedAuth))
	for _, name := range summary.Failed {
		fmt.Printf("  failed: %s\n", name)
	}

	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d of %d hosts failed", len(summary.Failed), summary.Total)
	}
	return nil
}
