package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campus-netops/fleetup/internal/config"
	"github.com/campus-netops/fleetup/pkg/db"
	"github.com/campus-netops/fleetup/pkg/errors"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

var hostsPrefix string

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Show the fleet and each host's upgrade state",
	RunE:  runHosts,
}

var hostsTrailCmd = &cobra.Command{
	Use:   "trail <host>",
	Short: "Show the audit trail of one host's state",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostsTrail,
}

var hostsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past fleet runs",
	RunE:  runHostsRuns,
}

func init() {
	rootCmd.AddCommand(hostsCmd)
	hostsCmd.AddCommand(hostsTrailCmd)
	hostsCmd.AddCommand(hostsRunsCmd)
	hostsCmd.Flags().StringVar(&hostsPrefix, "prefix", "", "Only show hosts whose name starts with this prefix")
}

func runHosts(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := ensureDirectories(cfg); err != nil {
		return err
	}

	inv, _, err := loadInventory(cfg, hostsPrefix)
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

	fmt.Printf("%-28s %-10s %-36s %-10s %-10s\n", "HOST", "PLATFORM", "CURRENT IMAGE", "AT TARGET", "INACTIVE")
	fmt.Println("----------------------------------------------------------------------------------------------------")

	for _, h := range inv.Sorted() {
		current := hoststate.StringVal(h.State.CurrentImage)
		if current == "" {
			current = "-"
		}
		fmt.Printf("%-28s %-10s %-36s %-10v %-10v\n",
			h.Name, h.Platform, current,
			hoststate.BoolSet(h.State.IsAtTarget),
			hoststate.BoolSet(h.State.Inactive))
	}
	return nil
}

func runHostsTrail(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	entries, err := repo.Trail(args[0])
	if err != nil {
		return errors.Wrap(err, "trail query failed")
	}
	if len(entries) == 0 {
		fmt.Println("No recorded state")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %s\n", e.RecordedAt, e.State)
	}
	return nil
}

func runHostsRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	runs, err := repo.ListRuns()
	if err != nil {
		return errors.Wrap(err, "list runs failed")
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-6s %-20s %-12s %-22s %-22s %-7s %-7s\n",
		"ID", "INVENTORY", "WORKFLOW", "STARTED", "FINISHED", "HOSTS", "FAILED")
	for _, run := range runs {
		finished := run.FinishedAt
		if finished == "" {
			finished = "-"
		}
		fmt.Printf("%-6d %-20s %-12s %-22s %-22s %-7d %-7d\n",
			run.ID, run.Inventory, run.Workflow, run.StartedAt, finished,
			run.HostsTotal, run.HostsFailed)
	}
	return nil
}
