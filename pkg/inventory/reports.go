package inventory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/campus-netops/fleetup/pkg/errors"
)

// WriteReport writes a JSON report named <class>_<inventory>_<timestamp>.json
// and returns its path. class says what kind of failure or finding the
// report holds (failed_auth, inactive_hosts, ...).
func WriteReport(dir, class, inventoryName string, v any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create reports folder")
	}

	name := fmt.Sprintf("%s_%s_%s.json", class, inventoryName, time.Now().Format("20060102_1504"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write report")
	}

	slog.Info("report_written", "class", class, "path", path)
	return path, nil
}
