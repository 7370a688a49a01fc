package detector

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRulesFromFile loads detection rules from a YAML file.
func LoadRulesFromFile(path string) ([]*Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRules(f)
}

// LoadRules loads detection rules from a reader.
func LoadRules(r io.Reader) ([]*Rule, error) {
	var config RulesConfig
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}

	for i, rule := range config.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
	}

	return config.Rules, nil
}

// LoadRulesFromBytes loads detection rules from YAML bytes.
func LoadRulesFromBytes(data []byte) ([]*Rule, error) {
	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}

	for i, rule := range config.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
	}

	return config.Rules, nil
}

// BuiltinRules returns the seven built-in rules with sensible defaults.
// Threshold, window, and cooldown are all overridable via the rules file;
// these defaults only apply when a deployment runs without one.
func BuiltinRules() []*Rule {
	rules := []*Rule{
		{
			ID:          "error-burst",
			Name:        "Error burst",
			Kind:        RuleErrorBurst,
			Description: "Repeated error events from one source",
			Threshold:   10,
			Window:      "5m",
			Cooldown:    "10m",
		},
		{
			ID:          "service-down",
			Name:        "Service down",
			Kind:        RuleServiceDown,
			Description: "Consecutive health-check failures",
			Threshold:   3,
			Window:      "5m",
			Cooldown:    "15m",
		},
		{
			ID:          "quality-drop",
			Name:        "Quality drop",
			Kind:        RuleQualityDrop,
			Description: "Quality metric below floor for a sustained period",
			Threshold:   5,
			Window:      "10m",
			Cooldown:    "15m",
			Value:       0.9,
		},
		{
			ID:          "workflow-failure-spike",
			Name:        "Workflow failure spike",
			Kind:        RuleWorkflowFailureSpike,
			Description: "Workflow failures spiking against baseline",
			Threshold:   5,
			Window:      "10m",
			Cooldown:    "15m",
		},
		{
			ID:          "memory-exhaustion",
			Name:        "Memory exhaustion",
			Kind:        RuleMemoryExhaustion,
			Description: "Memory utilization above ceiling",
			Threshold:   3,
			Window:      "5m",
			Cooldown:    "15m",
			Value:       0.92,
		},
		{
			ID:          "performance-degradation",
			Name:        "Performance degradation",
			Kind:        RulePerformanceDegradation,
			Description: "p95 latency above ceiling",
			Threshold:   20,
			Window:      "10m",
			Cooldown:    "15m",
			Value:       1500,
		},
		{
			ID:          "low-disk-space",
			Name:        "Low disk space",
			Kind:        RuleLowDiskSpace,
			Description: "Free disk space below floor",
			Threshold:   3,
			Window:      "15m",
			Cooldown:    "30m",
			Value:       5 * 1024 * 1024 * 1024,
		},
	}

	for _, r := range rules {
		if err := r.Validate(); err != nil {
			// Built-in defaults are fixed at compile time; a validation
			// failure here is a programming error.
			panic(fmt.Sprintf("invalid builtin rule %s: %v", r.ID, err))
		}
	}
	return rules
}
