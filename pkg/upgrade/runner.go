package upgrade

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/superfly/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/campus-netops/fleetup/pkg/db"
	"github.com/campus-netops/fleetup/pkg/hoststate"
	"github.com/campus-netops/fleetup/pkg/inventory"
)

// Runner drives the upgrade machine across the fleet: bounded fan-out, a
// barrier after the first pass, then a second pass over authentication
// failures with the fallback credentials.
type Runner struct {
	Machine *Machine
	Manager *fsm.Manager
	Repo    *db.Repository

	Inventory     *inventory.Inventory
	InventoryName string
	ReportsDir    string

	// Concurrency bounds the number of hosts worked on at once.
	Concurrency int

	// FallbackUsername and FallbackPassword, when set, enable the second
	// pass over hosts the first pass could not authenticate to.
	FallbackUsername string
	FallbackPassword string
}

// Summary is the outcome of a fleet run.
type Summary struct {
	Total      int
	Failed     []string
	FailedAuth []string
}

// Run executes the workflow across every active host and writes the
// failure reports.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	// Restore before filtering: the inactive marker may come from a
	// previous connectivity run.
	if r.Repo != nil {
		if err := r.Repo.RestoreStates(r.Inventory.Sorted()); err != nil {
			return &Summary{}, err
		}
	}

	hosts := activeHosts(r.Inventory)
	summary := &Summary{Total: len(hosts)}

	var runID int64
	if r.Repo != nil {
		id, err := r.Repo.StartRun(r.InventoryName, "transfer", len(hosts))
		if err != nil {
			return summary, err
		}
		runID = id
	}

	slog.Info("fleet_run_start", "inventory", r.InventoryName, "host_count", len(hosts))

	failed := r.runPass(ctx, runID, hosts)

	// Barrier: the fallback pass only starts once every first-pass host
	// has finished, so credential changes never race live sessions.
	failedAuth := authFailures(hosts)
	if len(failedAuth) > 0 {
		r.writeReport("failed_auth", hostNames(failedAuth))

		if r.FallbackUsername != "" {
			for _, h := range failedAuth {
				h.Username = r.FallbackUsername
				h.Password = r.FallbackPassword
				h.State.AuthStatus = nil
			}
			slog.Info("fallback_credential_pass", "host_count", len(failedAuth))

			secondFailed := r.runPass(ctx, runID, failedAuth)
			for _, h := range failedAuth {
				if err, ok := secondFailed[h.Name]; ok {
					failed[h.Name] = err
				} else {
					delete(failed, h.Name)
				}
			}

			if still := authFailures(failedAuth); len(still) > 0 {
				r.writeReport("still_failed_auth", hostNames(still))
				summary.FailedAuth = hostNames(still)
			}
		} else {
			summary.FailedAuth = hostNames(failedAuth)
		}
	}

	for name := range failed {
		summary.Failed = append(summary.Failed, name)
	}
	sort.Strings(summary.Failed)
	if len(summary.Failed) > 0 {
		r.writeReport("failed_hosts", summary.Failed)
	}

	if r.Repo != nil {
		if err := r.Repo.FinishRun(runID, len(summary.Failed)); err != nil {
			slog.Error("run_record_update_failed", "error", err)
		}
	}

	slog.Info("fleet_run_complete", "inventory", r.InventoryName,
		"host_count", summary.Total, "failed_count", len(summary.Failed))
	return summary, nil
}

// runPass runs the machine over the hosts with bounded concurrency and
// returns the per-host errors.
func (r *Runner) runPass(ctx context.Context, runID int64, hosts []*hoststate.Host) map[string]error {
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	var mu sync.Mutex
	failed := make(map[string]error)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, h := range hosts {
		g.Go(func() error {
			if _, err := r.Machine.Run(ctx, r.Manager, runID, h); err != nil {
				slog.Error("host_upgrade_failed", "host", h.Name, "error", err)
				mu.Lock()
				failed[h.Name] = err
				mu.Unlock()
			}
			// Host failures never cancel the rest of the fleet.
			return nil
		})
	}
	g.Wait()

	return failed
}

func (r *Runner) writeReport(class string, v any) {
	if r.ReportsDir == "" {
		return
	}
	if _, err := inventory.WriteReport(r.ReportsDir, class, r.InventoryName, v); err != nil {
		slog.Error("report_write_failed", "class", class, "error", err)
	}
}

func activeHosts(inv *inventory.Inventory) []*hoststate.Host {
	var hosts []*hoststate.Host
	for _, h := range inv.Sorted() {
		if hoststate.BoolSet(h.State.Inactive) {
			slog.Info("host_skipped", "host", h.Name, "reason", "inactive")
			continue
		}
		hosts = append(hosts, h)
	}
	return hosts
}

func authFailures(hosts []*hoststate.Host) []*hoststate.Host {
	var failed []*hoststate.Host
	for _, h := range hosts {
		if h.State.AuthStatus != nil && !*h.State.AuthStatus {
			failed = append(failed, h)
		}
	}
	return failed
}

func hostNames(hosts []*hoststate.Host) []string {
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		names = append(names, h.Name)
	}
	sort.Strings(names)
	return names
}
