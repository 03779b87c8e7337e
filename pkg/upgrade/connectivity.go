package upgrade

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/campus-netops/fleetup/pkg/deviceinfo"
	"github.com/campus-netops/fleetup/pkg/hoststate"
	"github.com/campus-netops/fleetup/pkg/inventory"
	"github.com/campus-netops/fleetup/pkg/monitor"
)

// ConnectivityCheck cross-checks the fleet's reachability against the
// monitoring system and marks hosts down in both as inactive, so upgrade
// runs stop burning retries on gear that is gone.
type ConnectivityCheck struct {
	Inventory     *inventory.Inventory
	InventoryName string
	Provider      monitor.StatusProvider
	Domain        string
	ReportsDir    string
	Concurrency   int
	ProbeTimeout  time.Duration
}

// Run probes every host, queries the monitor and reconciles the two
// views. It returns true when no host had to be marked inactive.
func (c *ConnectivityCheck) Run(ctx context.Context) (bool, error) {
	hosts := c.Inventory.Sorted()

	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = 20
	}
	timeout := c.ProbeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	g, probeCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, h := range hosts {
		g.Go(func() error {
			deviceinfo.CheckReachable(probeCtx, h, timeout)
			return nil
		})
	}
	g.Wait()

	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		names = append(names, inventory.CleanHostname(h.Name, c.Domain))
	}

	statuses := map[string]bool{}
	if c.Provider != nil {
		var err error
		statuses, err = c.Provider.DeviceStatus(ctx, names)
		if err != nil {
			return false, err
		}
	}

	inactive := map[string]string{}
	monitorUpProbeFailed := map[string]string{}
	monitorDownProbeOK := map[string]string{}

	for _, h := range hosts {
		monitorUp := statuses[inventory.CleanHostname(h.Name, c.Domain)]
		h.State.MonitorStatus = hoststate.Bool(monitorUp)
		h.State.Inactive = hoststate.Bool(false)

		reachable := hoststate.BoolSet(h.State.PingStatus)

		switch {
		case !monitorUp && !reachable:
			h.State.Inactive = hoststate.Bool(true)
			inactive[h.Name] = "down in monitoring and probe failed"
			slog.Warn("host_inactive", "host", h.Name)
		case !monitorUp && reachable:
			monitorDownProbeOK[h.Name] = "down in monitoring but probe successful"
			slog.Warn("monitor_down_probe_ok", "host", h.Name)
		case monitorUp && !reachable:
			monitorUpProbeFailed[h.Name] = "up in monitoring but probe failed"
			slog.Error("monitor_up_probe_failed", "host", h.Name)
		}
	}

	c.report("inactive_hosts", inactive)
	c.report("monitor_up_probe_failed", monitorUpProbeFailed)
	c.report("monitor_down_probe_ok", monitorDownProbeOK)

	return len(inactive) == 0, nil
}

func (c *ConnectivityCheck) report(class string, findings map[string]string) {
	if len(findings) == 0 || c.ReportsDir == "" {
		return
	}
	if _, err := inventory.WriteReport(c.ReportsDir, class, c.InventoryName, findings); err != nil {
		slog.Error("report_write_failed", "class", class, "error", err)
	}
}
