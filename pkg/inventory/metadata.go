package inventory

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/campus-netops/fleetup/pkg/errors"
)

// Metadata identifies a prepared inventory: a name used in report file
// names, the filter that selected the hosts, and when it was built.
type Metadata struct {
	Name             string            `yaml:"name"`
	FilterParameters map[string]string `yaml:"filter_parameters,omitempty"`
	Timestamp        time.Time         `yaml:"timestamp"`
}

// NewMetadata stamps a metadata record with the current time. A blank name
// falls back to the timestamp so report names stay unique.
func NewMetadata(name string, filter map[string]string) Metadata {
	now := time.Now()
	if name == "" {
		name = now.Format("20060102_1504")
	}
	return Metadata{Name: name, FilterParameters: filter, Timestamp: now}
}

// Save writes the metadata document.
func (m Metadata) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadMetadata reads a metadata document back.
func LoadMetadata(path string) (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return m, errors.Wrap(err, "read metadata")
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, errors.Wrap(err, "parse metadata")
	}
	return m, nil
}
