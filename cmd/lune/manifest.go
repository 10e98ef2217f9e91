package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/lunelang/lune"
)

// manifest is the optional lune.toml run configuration: collector
// tuning and resource limits for the scripts run by the CLI.
type manifest struct {
	GC struct {
		Pause          int `toml:"pause"`
		StepMultiplier int `toml:"stepmul"`
	} `toml:"gc"`
	Limits struct {
		Memory int64 `toml:"memory"` // bytes; 0 means unlimited
	} `toml:"limits"`
}

const defaultManifestName = "lune.toml"

// loadManifest reads path, or lune.toml from the working directory when
// path is empty; a missing default manifest is not an error.
func loadManifest(fs afero.Fs, path string) (*manifest, error) {
	explicit := path != ""
	if !explicit {
		path = defaultManifestName
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}

func (m *manifest) options() []lune.Option {
	var opts []lune.Option
	if m.GC.Pause > 0 {
		opts = append(opts, lune.WithGCPause(m.GC.Pause))
	}
	if m.GC.StepMultiplier > 0 {
		opts = append(opts, lune.WithGCStepMultiplier(m.GC.StepMultiplier))
	}
	if m.Limits.Memory > 0 {
		opts = append(opts, lune.WithMemoryLimit(m.Limits.Memory))
	}
	return opts
}
