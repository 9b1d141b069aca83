package reload

import (
	"reflect"
	"sort"
	"strings"

	"github.com/supporttools/prism-check/pkg/types"
)

// ConfigDiff represents the differences between two configurations.
type ConfigDiff struct {
	RulesetsAdded    []string
	RulesetsRemoved  []string
	RulesetsModified []string

	// SettingsChanged covers logging, host name and check interval.
	SettingsChanged  bool
	AgentChanged     bool
	ExportersChanged bool
}

// ComputeConfigDiff calculates the differences between old and new configurations.
func ComputeConfigDiff(oldConfig, newConfig *types.CheckerConfig) *ConfigDiff {
	diff := &ConfigDiff{}

	for name, newRules := range newConfig.Rulesets {
		oldRules, exists := oldConfig.Rulesets[name]
		switch {
		case !exists:
			diff.RulesetsAdded = append(diff.RulesetsAdded, name)
		case !reflect.DeepEqual(oldRules, newRules):
			diff.RulesetsModified = append(diff.RulesetsModified, name)
		}
	}
	for name := range oldConfig.Rulesets {
		if _, exists := newConfig.Rulesets[name]; !exists {
			diff.RulesetsRemoved = append(diff.RulesetsRemoved, name)
		}
	}
	sort.Strings(diff.RulesetsAdded)
	sort.Strings(diff.RulesetsRemoved)
	sort.Strings(diff.RulesetsModified)

	diff.SettingsChanged = oldConfig.Settings != newConfig.Settings
	diff.AgentChanged = oldConfig.Agent != newConfig.Agent
	diff.ExportersChanged = !reflect.DeepEqual(oldConfig.Exporters, newConfig.Exporters)

	return diff
}

// HasChanges returns true if there are any configuration changes.
func (d *ConfigDiff) HasChanges() bool {
	return d.RulesChanged() || d.SettingsChanged || d.AgentChanged || d.ExportersChanged
}

// RulesChanged reports whether any rule-set was added, removed or modified.
func (d *ConfigDiff) RulesChanged() bool {
	return len(d.RulesetsAdded) > 0 || len(d.RulesetsRemoved) > 0 || len(d.RulesetsModified) > 0
}

// Summary describes the changes in one line.
func (d *ConfigDiff) Summary() string {
	var changes []string
	if len(d.RulesetsAdded) > 0 {
		changes = append(changes, "rule-sets added: "+strings.Join(d.RulesetsAdded, ","))
	}
	if len(d.RulesetsRemoved) > 0 {
		changes = append(changes, "rule-sets removed: "+strings.Join(d.RulesetsRemoved, ","))
	}
	if len(d.RulesetsModified) > 0 {
		changes = append(changes, "rule-sets modified: "+strings.Join(d.RulesetsModified, ","))
	}
	if d.SettingsChanged {
		changes = append(changes, "settings updated")
	}
	if d.AgentChanged {
		changes = append(changes, "agent source updated")
	}
	if d.ExportersChanged {
		changes = append(changes, "exporters updated")
	}
	if len(changes) == 0 {
		return "no changes"
	}
	return strings.Join(changes, "; ")
}
