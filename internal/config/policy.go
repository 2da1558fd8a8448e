package config

import (
	"os"

	"go.yaml.in/yaml/v3"
)

// TeamPolicy carries the team: section of .crew.yaml. It is parsed
// outside viper so a policy-only file stays valid even when the rest of
// the config is absent or managed elsewhere.
type TeamPolicy struct {
	// Roles lists extra assignees recognized beyond the built-in set.
	Roles []string `yaml:"roles"`
	// QualityGates replaces the built-in default gate set seeded onto
	// every new task.
	QualityGates []string `yaml:"quality_gates"`
	// MaxIterations overrides the default rework bound when positive.
	MaxIterations int `yaml:"max_iterations"`
}

// crewFile is the subset of .crew.yaml the policy loader reads.
type crewFile struct {
	Team TeamPolicy `yaml:"team"`
}

// LoadTeamPolicy reads the team policy from a .crew.yaml file.
func LoadTeamPolicy(configPath string) (*TeamPolicy, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var file crewFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	return &file.Team, nil
}

// FindTeamPolicy loads the team policy from the nearest project config,
// walking up from the working directory. Returns an empty policy when
// no project config exists.
func FindTeamPolicy() (*TeamPolicy, error) {
	path := findProjectConfig()
	if path == "" {
		return &TeamPolicy{}, nil
	}
	return LoadTeamPolicy(path)
}

// Empty reports whether the policy changes nothing.
func (p *TeamPolicy) Empty() bool {
	return p == nil || (len(p.Roles) == 0 && len(p.QualityGates) == 0 && p.MaxIterations <= 0)
}
