package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTeamPolicy(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ProjectConfigName)

	content := `
defaults:
  max_parallel: 4
team:
  roles:
    - security_reviewer
    - tech_writer
  quality_gates:
    - security_scan
  max_iterations: 5
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	policy, err := LoadTeamPolicy(configPath)
	if err != nil {
		t.Fatalf("LoadTeamPolicy failed: %v", err)
	}

	if len(policy.Roles) != 2 || policy.Roles[0] != "security_reviewer" || policy.Roles[1] != "tech_writer" {
		t.Errorf("Roles = %v, want [security_reviewer tech_writer]", policy.Roles)
	}
	if len(policy.QualityGates) != 1 || policy.QualityGates[0] != "security_scan" {
		t.Errorf("QualityGates = %v, want [security_scan]", policy.QualityGates)
	}
	if policy.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want 5", policy.MaxIterations)
	}
	if policy.Empty() {
		t.Error("policy with roles should not be Empty")
	}
}

func TestLoadTeamPolicyNoTeamSection(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ProjectConfigName)

	content := `
defaults:
  max_parallel: 4
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	policy, err := LoadTeamPolicy(configPath)
	if err != nil {
		t.Fatalf("LoadTeamPolicy failed: %v", err)
	}
	if !policy.Empty() {
		t.Errorf("expected empty policy without a team section, got %+v", policy)
	}
}

func TestLoadTeamPolicyMissingFile(t *testing.T) {
	_, err := LoadTeamPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing policy file")
	}
}

func TestTeamPolicyEmpty(t *testing.T) {
	var nilPolicy *TeamPolicy
	if !nilPolicy.Empty() {
		t.Error("nil policy should be Empty")
	}
	if !(&TeamPolicy{}).Empty() {
		t.Error("zero policy should be Empty")
	}
	if (&TeamPolicy{MaxIterations: 2}).Empty() {
		t.Error("policy with an iteration override should not be Empty")
	}
}
