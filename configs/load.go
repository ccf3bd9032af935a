package configs

import (
	"github.com/elastic/go-ucfg"
	"github.com/elastic/go-ucfg/yaml"
	"github.com/pkg/errors"
)

var ucfgOpts = []ucfg.Option{
	ucfg.PathSep("."),
	ucfg.ReplaceValues,
}

// Load unpacks a YAML sweep file on top of base.
func Load(path string, base Sweep) (Sweep, error) {
	cfg, err := yaml.NewConfigWithFile(path, ucfgOpts...)
	if err != nil {
		return Sweep{}, errors.Wrapf(err, "failed to read sweep config %s", path)
	}
	return unpack(cfg, base)
}

func LoadBytes(buf []byte, base Sweep) (Sweep, error) {
	cfg, err := yaml.NewConfig(buf, ucfgOpts...)
	if err != nil {
		return Sweep{}, errors.Wrap(err, "failed to parse sweep config")
	}
	return unpack(cfg, base)
}

func unpack(cfg *ucfg.Config, base Sweep) (Sweep, error) {
	sweep := base.Clone()
	// Unpack merges into existing slices item by item, a list in the file
	// has to replace the base list as a whole.
	for key, clear := range listFields(&sweep) {
		set, err := cfg.Has(key, -1, ucfgOpts...)
		if err != nil {
			return Sweep{}, errors.Wrapf(err, "failed to inspect %s", key)
		}
		if set {
			clear()
		}
	}

	if err := cfg.Unpack(&sweep, ucfgOpts...); err != nil {
		return Sweep{}, errors.Wrap(err, "failed to unpack sweep config")
	}
	return sweep, nil
}

func listFields(s *Sweep) map[string]func() {
	return map[string]func(){
		"protocols":     func() { s.Protocols = nil },
		"flows":         func() { s.Flows = nil },
		"delays_ms":     func() { s.DelaysMs = nil },
		"error_rates":   func() { s.ErrorRates = nil },
		"metrics":       func() { s.Metrics = nil },
		"rlimits":       func() { s.Rlimits = nil },
		"sandbox.files": func() { s.Sandbox.Files = nil },
	}
}
