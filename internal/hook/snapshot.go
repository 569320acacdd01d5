package hook

import (
	"encoding/json"
	"os"

	"github.com/Tiger66639/juju-gui-charm/internal/hookenv"
)

// DefaultSnapshotPath stores the configuration between hook invocations.
const DefaultSnapshotPath = "/tmp/config.json"

// LoadSnapshot reads the configuration snapshot of the previous hook
// invocation. A missing snapshot returns nil without error.
func LoadSnapshot(path string) (hookenv.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg hookenv.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveSnapshot persists the configuration for the next hook invocation.
func SaveSnapshot(path string, cfg hookenv.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
