package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"backoffkit/pkg/backoff"
	"backoffkit/pkg/backoff/jitter"
)

// Strategy names accepted in profiles.
const (
	StrategyConstant    = "constant"
	StrategyLinear      = "linear"
	StrategyExponential = "exponential"
	StrategyGeometric   = "geometric"
)

// Profile describes a retry policy in configuration terms.
type Profile struct {
	Strategy       string        `yaml:"strategy"        validate:"oneof=constant linear exponential geometric"`
	Base           time.Duration `yaml:"base"            validate:"gte=0"`
	Factor         uint32        `yaml:"factor"`
	Multiplier     float64       `yaml:"multiplier"      validate:"gte=0"`
	Limit          uint32        `yaml:"limit"           validate:"min=1"`
	Ceiling        time.Duration `yaml:"ceiling"         validate:"gte=0"`
	Budget         time.Duration `yaml:"budget"          validate:"gte=0"`
	Jitter         string        `yaml:"jitter"          validate:"oneof=none full equal proportional decorrelated"`
	JitterFraction float64       `yaml:"jitter_fraction" validate:"gte=0,lte=1"`
}

// withDefaults fills zero fields with the defaults of the chosen strategy.
func (p Profile) withDefaults() Profile {
	if p.Strategy == "" {
		p.Strategy = StrategyExponential
	}
	if p.Jitter == "" {
		p.Jitter = jitter.NameNone
	}
	switch p.Strategy {
	case StrategyConstant:
		d := backoff.DefaultConstant()
		p.Base = orDuration(p.Base, d.Delay)
		p.Limit = orUint(p.Limit, d.MaxAttempts)
	case StrategyLinear:
		d := backoff.DefaultLinear()
		p.Base = orDuration(p.Base, d.Base)
		p.Limit = orUint(p.Limit, d.MaxAttempts)
	case StrategyExponential:
		d := backoff.DefaultExponential()
		p.Base = orDuration(p.Base, d.Base)
		p.Factor = orUint(p.Factor, d.Factor)
		p.Limit = orUint(p.Limit, d.MaxAttempts)
	case StrategyGeometric:
		p.Base = orDuration(p.Base, 100*time.Millisecond)
		if p.Multiplier == 0 {
			p.Multiplier = 2
		}
		p.Limit = orUint(p.Limit, 5)
	}
	if p.Jitter == jitter.NameProportional && p.JitterFraction == 0 {
		p.JitterFraction = 0.2
	}
	return p
}

// NewStrategy builds the backoff.Strategy the profile describes, wrapped in Capped and Budget
// when Ceiling or Budget are set.
func (p Profile) NewStrategy() (backoff.Strategy, error) {
	var (
		s   backoff.Strategy
		err error
	)
	switch p.Strategy {
	case StrategyConstant:
		s, err = backoff.NewConstant(p.Base, p.Limit)
	case StrategyLinear:
		s, err = backoff.NewLinear(p.Base, p.Limit)
	case StrategyExponential:
		s, err = backoff.NewExponential(p.Base, p.Factor, p.Limit)
	case StrategyGeometric:
		s, err = backoff.NewGeometric(p.Base, p.Multiplier, p.Limit)
	default:
		return nil, fmt.Errorf("config: unknown strategy %q", p.Strategy)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %s strategy: %w", p.Strategy, err)
	}
	if p.Ceiling > 0 {
		s = backoff.Capped{Strategy: s, Ceiling: p.Ceiling}
	}
	if p.Budget > 0 {
		s = backoff.Budget{Strategy: s, Total: p.Budget}
	}
	return s, nil
}

// NewRandomizer builds a fresh randomizer for the profile. Each Handler should get its own.
func (p Profile) NewRandomizer() (backoff.Randomizer, error) {
	return jitter.New(p.Jitter, p.JitterFraction, nil)
}

type profilesFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads named retry profiles from a YAML file. ${VAR} references are expanded
// from the environment before parsing.
//
//	profiles:
//	  http:
//	    strategy: geometric
//	    base: 200ms
//	    limit: 6
//	    ceiling: 5s
//	    jitter: full
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var f profilesFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	out := make(map[string]Profile, len(f.Profiles))
	for name, p := range f.Profiles {
		p = p.withDefaults()
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		if _, err := p.NewStrategy(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

func orUint(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}
