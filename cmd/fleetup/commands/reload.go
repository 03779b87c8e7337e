package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campus-netops/fleetup/internal/config"
	"github.com/campus-netops/fleetup/pkg/db"
	"github.com/campus-netops/fleetup/pkg/device"
	"github.com/campus-netops/fleetup/pkg/errors"
	"github.com/campus-netops/fleetup/pkg/hoststate"
	"github.com/campus-netops/fleetup/pkg/inventory"
	"github.com/campus-netops/fleetup/pkg/reload"
	"github.com/campus-netops/fleetup/pkg/upgrade"
)

var (
	reloadPrefix  string
	reloadForce   bool
	reloadSetBoot bool
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Manage scheduled device reloads",
}

var reloadSetCmd = &cobra.Command{
	Use:   "set <HH:MM DD MON>",
	Short: "Configure the boot statement and schedule a reload",
	Long: `Schedules a reload at the given time, e.g. "04:30 14 sep". With
--set-boot (the default) the boot statement is configured and persisted
first so the device comes back on the target image.`,
	Args: cobra.ExactArgs(1),
	RunE: runReloadSet,
}

var reloadNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Set the boot statement and reload hosts immediately",
	Long: `Configures the boot statement, then reloads every host not already at
the target version.`,
	RunE: runReloadNow,
}

var reloadCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel scheduled reloads on hosts already at the target version",
	RunE:  runReloadCancel,
}

var reloadVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Reconcile the recorded reload schedule with each device",
	RunE:  runReloadVerify,
}

var reloadCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report hosts that still have a reload scheduled",
	RunE:  runReloadCheck,
}

func init() {
	rootCmd.AddCommand(reloadCmd)
	reloadCmd.AddCommand(reloadSetCmd)
	reloadCmd.AddCommand(reloadNowCmd)
	reloadCmd.AddCommand(reloadCancelCmd)
	reloadCmd.AddCommand(reloadVerifyCmd)
	reloadCmd.AddCommand(reloadCheckCmd)

	reloadCmd.PersistentFlags().StringVar(&reloadPrefix, "prefix", "", "Only work on hosts whose name starts with this prefix")
	reloadSetCmd.Flags().BoolVar(&reloadSetBoot, "set-boot", true, "Configure the boot statement before scheduling")
	reloadSetCmd.Flags().BoolVar(&reloadForce, "force", false, "Reschedule hosts that already have a reload set")
}

// reloadFleet loads the fleet and runs fn over every active host with an
// open session, persisting state as it goes.
func reloadFleet(fn func(ctx context.Context, sess device.Session, h *hoststate.Host) error) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := ensureDirectories(cfg); err != nil {
		return err
	}

	inv, invName, err := loadInventory(cfg, reloadPrefix)
	if err != nil {
		return errors.Wrap(err, "inventory load failed")
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	if err := repo.RestoreStates(inv.Sorted()); err != nil {
		return errors.Wrap(err, "state restore failed")
	}

	failed := forEachHost(ctx, cfg, inv, repo, invName, fn)
	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		if _, err := inventory.WriteReport(cfg.ReportsDir, "failed_hosts", invName, names); err != nil {
			return errors.Wrap(err, "report write failed")
		}
		return fmt.Errorf("%d hosts failed", len(failed))
	}
	return nil
}

func runReloadSet(cmd *cobra.Command, args []string) error {
	reloadTime := args[0]
	if !reload.ValidTime(reloadTime) {
		return fmt.Errorf("invalid reload time %q, want HH:MM DD MON", reloadTime)
	}

	return reloadFleet(func(ctx context.Context, sess device.Session, h *hoststate.Host) error {
		if reloadSetBoot && !hoststate.BoolSet(h.State.IsAtTarget) {
			if err := upgrade.SetBootStatement(ctx, sess, h, reloadForce); err != nil {
				return err
			}
			if !hoststate.BoolSet(h.State.BootStatementSet) {
				return fmt.Errorf("boot statement not confirmed on %s", h.Name)
			}
		}
		return reload.Schedule(ctx, sess, h, reloadTime, reloadForce)
	})
}

func runReloadNow(cmd *cobra.Command, args []string) error {
	return reloadFleet(func(ctx context.Context, sess device.Session, h *hoststate.Host) error {
		if !hoststate.BoolSet(h.State.IsAtTarget) {
			if err := upgrade.SetBootStatement(ctx, sess, h, false); err != nil {
				return err
			}
			if !hoststate.BoolSet(h.State.BootStatementSet) {
				return fmt.Errorf("boot statement not confirmed on %s", h.Name)
			}
		}
		return reload.Now(ctx, sess, h)
	})
}

func runReloadCancel(cmd *cobra.Command, args []string) error {
	return reloadFleet(func(ctx context.Context, sess device.Session, h *hoststate.Host) error {
		return reload.CancelAtTarget(ctx, sess, h)
	})
}

func runReloadVerify(cmd *cobra.Command, args []string) error {
	return reloadFleet(func(ctx context.Context, sess device.Session, h *hoststate.Host) error {
		return reload.Verify(ctx, sess, h, true)
	})
}

func runReloadCheck(cmd *cobra.Command, args []string) error {
	return reloadFleet(func(ctx context.Context, sess device.Session, h *hoststate.Host) error {
		return reload.CheckNone(ctx, sess, h)
	})
}
