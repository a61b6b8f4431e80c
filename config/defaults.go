package config

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

// The default task lists ship with the binary so a minimal config file
// only needs connection parameters. A user entry with the same task
// name overrides the default interval; tasks the user never mentions
// keep their defaults.

//go:embed defaults.yaml
var defaultsYAML []byte

type taskDefaults struct {
	DatabaseTasks []TaskConfig `yaml:"db-tasks"`
	ClusterTasks  []TaskConfig `yaml:"cluster-tasks"`
}

func (c *Config) mergeDefaultTasks() error {
	var defaults taskDefaults
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		return err
	}
	c.DatabaseTasks = mergeTaskLists(c.DatabaseTasks, defaults.DatabaseTasks)
	c.ClusterTasks = mergeTaskLists(c.ClusterTasks, defaults.ClusterTasks)
	return nil
}

// mergeTaskLists keeps configured entries as-is and appends defaults
// whose names the configuration does not mention.
func mergeTaskLists(configured, defaults []TaskConfig) []TaskConfig {
	seen := make(map[string]bool, len(configured))
	for _, task := range configured {
		seen[task.Name] = true
	}
	merged := configured
	for _, task := range defaults {
		if !seen[task.Name] {
			merged = append(merged, task)
		}
	}
	return merged
}
