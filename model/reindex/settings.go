package reindex

import (
	"strconv"
	"strings"
)

// FlatSettings is the settings/mappings view of an index as returned by
// GET /{index}?flat_settings=true.
type FlatSettings struct {
	Settings map[string]interface{} `json:"settings"`
	Mappings map[string]interface{} `json:"mappings"`
}

// Warning is a potential hazard of migrating an index.
type Warning string

const (
	// AllFieldWarning is raised when the mapping still configures the removed _all field.
	AllFieldWarning Warning = "allField"
	// BooleanFieldsWarning is raised when boolean fields may hold legacy values
	// ("yes", "off", 1, ...) that are coerced while reindexing.
	BooleanFieldsWarning Warning = "booleanFields"
)

// SettingsPolicy decides how an index's settings are carried over to the
// new index and which hazards to report before reindexing.
type SettingsPolicy interface {
	Transform(flat *FlatSettings) (settings, mappings map[string]interface{})
	Warnings(flat *FlatSettings) []Warning
}

// unsettableSettings cannot be set on index creation, or are specific to
// the physical source index.
var unsettableSettings = []string{
	"index.uuid",
	"index.blocks.write",
	"index.creation_date",
	"index.legacy",
	"index.mapping.single_type",
	"index.provided_name",
	"index.routing.allocation.initial_recovery._id",
	"index.version.created",
	"index.version.upgraded",
}

const delayedTimeoutSetting = "index.unassigned.node_left.delayed_timeout"

// DefaultSettingsPolicy is the SettingsPolicy used unless another one is configured.
type DefaultSettingsPolicy struct{}

// Transform maps the flat settings of the source index to the settings and
// mappings of the new index. It never mutates flat.
func (DefaultSettingsPolicy) Transform(flat *FlatSettings) (map[string]interface{}, map[string]interface{}) {
	settings := make(map[string]interface{}, len(flat.Settings))
	for k, v := range flat.Settings {
		if isUnsettable(k) {
			continue
		}
		settings[k] = v
	}
	if timeout, ok := settings[delayedTimeoutSetting].(string); ok {
		if f, ok := leadingFloat(timeout); ok && f < 0 {
			settings[delayedTimeoutSetting] = "0"
		}
	}

	mapping := SingleMappingType(flat.Mappings)
	mappings := make(map[string]interface{}, len(mapping))
	for k, v := range mapping {
		if k == "_all" {
			continue
		}
		mappings[k] = v
	}
	return settings, mappings
}

// Warnings returns the hazards detected in the flat settings.
func (DefaultSettingsPolicy) Warnings(flat *FlatSettings) []Warning {
	warnings := []Warning{}
	mapping := SingleMappingType(flat.Mappings)
	if _, ok := mapping["_all"]; ok {
		warnings = append(warnings, AllFieldWarning)
	}
	if len(BooleanFieldPaths(mapping)) > 0 {
		warnings = append(warnings, BooleanFieldsWarning)
	}
	return warnings
}

// SingleMappingType returns the typeless mapping of an index. Legacy
// mappings nested under a single type name are unwrapped.
func SingleMappingType(mappings map[string]interface{}) map[string]interface{} {
	if len(mappings) == 0 {
		return nil
	}
	if _, ok := mappings["properties"]; ok {
		return mappings
	}
	if len(mappings) == 1 {
		for _, v := range mappings {
			if inner, ok := v.(map[string]interface{}); ok {
				return inner
			}
		}
	}
	return mappings
}

func isUnsettable(key string) bool {
	for _, s := range unsettableSettings {
		if s == key {
			return true
		}
	}
	return false
}

// leadingFloat parses the numeric prefix of s, e.g. "-1" of "-1ms".
func leadingFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
