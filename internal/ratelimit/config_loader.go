package ratelimit

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SourceConfigs maps a provider name to its limiter config.
type SourceConfigs struct {
	RateLimits map[string]Config `yaml:"rate_limits" json:"rate_limits"`
}

// LoadSourceConfigs reads the rate_limits section out of a YAML document.
// Other top-level keys are ignored, so the main config file can be passed as is.
func LoadSourceConfigs(data []byte) (SourceConfigs, error) {
	var cfgs SourceConfigs
	if err := yaml.Unmarshal(data, &cfgs); err != nil {
		return SourceConfigs{}, fmt.Errorf("parse rate_limits: %w", err)
	}
	for name, cfg := range cfgs.RateLimits {
		cfgs.RateLimits[name] = applyDefaults(cfg)
	}
	return cfgs, nil
}

// Get returns limiter config for a provider. A missing entry yields the
// defaults and ok=false.
func (s SourceConfigs) Get(provider string) (Config, bool) {
	cfg, ok := s.RateLimits[provider]
	if !ok {
		return DefaultConfig(), false
	}
	return applyDefaults(cfg), true
}
