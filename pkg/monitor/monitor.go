// Package monitor queries the network monitoring system for device
// up/down status. The connectivity workflow cross-checks it against its
// own reachability probes to find hosts that are truly gone.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campus-netops/fleetup/pkg/errors"
)

// StatusProvider returns up/down per device, keyed by normalized hostname.
// Devices unknown to the monitoring system are absent from the map.
type StatusProvider interface {
	DeviceStatus(ctx context.Context, hostnames []string) (map[string]bool, error)
}

// HTTPProvider queries a monitoring API over HTTP. The endpoint takes the
// device names as a query parameter and answers with a JSON array of
// {name, up} records.
type HTTPProvider struct {
	BaseURL  string
	Username string
	Password string

	// Client defaults to a client with a 30 second timeout.
	Client *http.Client
}

type statusRecord struct {
	Name string `json:"name"`
	Up   bool   `json:"up"`
}

func (p *HTTPProvider) DeviceStatus(ctx context.Context, hostnames []string) (map[string]bool, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	endpoint := fmt.Sprintf("%s/api/v1/devices/status?names=%s",
		strings.TrimSuffix(p.BaseURL, "/"),
		url.QueryEscape(strings.Join(hostnames, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build monitor request")
	}
	if p.Username != "" {
		req.SetBasicAuth(p.Username, p.Password)
	}

	slog.Info("monitor_query", "device_count", len(hostnames))

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "query monitor")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errStatus, "monitor returned %s", resp.Status)
	}

	var records []statusRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "decode monitor response")
	}

	statuses := make(map[string]bool, len(records))
	for _, r := range records {
		statuses[strings.ToLower(r.Name)] = r.Up
	}
	return statuses, nil
}

var errStatus = errors.New("unexpected monitor response")
