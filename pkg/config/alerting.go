package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/stratushq/stratus/pkg/models"
)

// BootstrapCondition is one alert condition declared in the alerting
// bootstrap file. The seeder creates conditions by name for every
// project that lacks them; existing conditions are never overwritten.
type BootstrapCondition struct {
	Name            string          `yaml:"name"`
	MetricName      string          `yaml:"metric_name"`
	Service         string          `yaml:"service,omitempty"`
	Operator        models.Operator `yaml:"operator"`
	Threshold       float64         `yaml:"threshold"`
	DurationMinutes int             `yaml:"duration_minutes"`
	Severity        models.Severity `yaml:"severity"`

	// Enabled defaults to true when omitted; a pointer distinguishes
	// an explicit false from absence so user files can disable a
	// builtin without redefining it.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports the effective enabled state.
func (c BootstrapCondition) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type alertingBootstrapFile struct {
	Conditions []BootstrapCondition `yaml:"conditions"`
}

// builtinBootstrapConditions returns the conditions every project gets
// out of the box. Order here is the seeding order.
func builtinBootstrapConditions() []BootstrapCondition {
	return []BootstrapCondition{
		{
			Name:            "High error rate",
			MetricName:      "error_rate",
			Operator:        models.OpGreaterThan,
			Threshold:       5.0,
			DurationMinutes: 5,
			Severity:        models.SeverityHigh,
		},
		{
			Name:            "Slow responses",
			MetricName:      "response_time",
			Operator:        models.OpGreaterThan,
			Threshold:       1000,
			DurationMinutes: 5,
			Severity:        models.SeverityMedium,
		},
		{
			Name:            "High CPU",
			MetricName:      "cpu_percent",
			Operator:        models.OpGreaterThan,
			Threshold:       90,
			DurationMinutes: 10,
			Severity:        models.SeverityCritical,
		},
		{
			Name:            "High memory",
			MetricName:      "memory_percent",
			Operator:        models.OpGreaterThan,
			Threshold:       90,
			DurationMinutes: 10,
			Severity:        models.SeverityCritical,
		},
	}
}

// LoadAlertingBootstrap loads the effective bootstrap condition set.
// An empty path yields the builtin defaults. When a file is given, its
// conditions are merged over the builtins by name, so a user file can
// retune a threshold or disable a default without restating the rest.
// User-only conditions are appended after the builtins in file order.
func LoadAlertingBootstrap(path string) ([]BootstrapCondition, error) {
	builtins := builtinBootstrapConditions()
	if path == "" {
		return builtins, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(data)

	var file alertingBootstrapFile
	if err := yaml.Unmarshal(expanded, &file); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	byName := make(map[string]BootstrapCondition, len(file.Conditions))
	for _, c := range file.Conditions {
		byName[c.Name] = c
	}

	out := make([]BootstrapCondition, 0, len(builtins)+len(file.Conditions))
	seen := make(map[string]bool, len(builtins))
	for _, builtin := range builtins {
		merged := builtin
		if user, ok := byName[builtin.Name]; ok {
			if err := mergo.Merge(&merged, user, mergo.WithOverride); err != nil {
				return nil, NewLoadError(path, err)
			}
		}
		out = append(out, merged)
		seen[builtin.Name] = true
	}
	for _, c := range file.Conditions {
		if !seen[c.Name] {
			out = append(out, c)
		}
	}

	for _, c := range out {
		if err := c.validate(); err != nil {
			return nil, NewLoadError(path, err)
		}
	}
	return out, nil
}

func (c BootstrapCondition) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: condition name", ErrMissingRequiredField)
	}
	if c.MetricName == "" {
		return fmt.Errorf("condition %q: %w: metric_name", c.Name, ErrMissingRequiredField)
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("condition %q: %w: operator %q", c.Name, ErrInvalidValue, c.Operator)
	}
	if !c.Severity.Valid() {
		return fmt.Errorf("condition %q: %w: severity %q", c.Name, ErrInvalidValue, c.Severity)
	}
	if c.DurationMinutes <= 0 {
		return fmt.Errorf("condition %q: %w: duration_minutes must be positive", c.Name, ErrInvalidValue)
	}
	return nil
}
