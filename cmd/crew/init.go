package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/crewdev/crew/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a crew project",
	Long: `Initialize a directory for use with crew.

This command sets up everything needed for project-local coordination:
  - Writes a starter ` + config.ProjectConfigName + ` configuration
  - Creates the .crew data directory (state, archive, logs, signals)
  - Adds .crew/ to .gitignore when the directory is a git repository

The directory argument is optional and defaults to the current directory.

Examples:
  crew init              # Initialize current directory
  crew init ./myproject  # Initialize specific directory
  crew init --force      # Rewrite the config even if already set up`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Rewrite the project config even if already set up")
}

// starterConfig is the shape marshaled into the starter .crew.yaml.
// The keys line up with what config.Load and the team policy loader
// read back.
type starterConfig struct {
	Defaults struct {
		MaxParallel   int `yaml:"max_parallel"`
		MaxIterations int `yaml:"max_iterations"`
	} `yaml:"defaults"`
	Runner struct {
		Kind    string `yaml:"kind"`
		Command string `yaml:"command,omitempty"`
	} `yaml:"runner"`
	Storage struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`
	Team struct {
		Roles        []string `yaml:"roles,omitempty"`
		QualityGates []string `yaml:"quality_gates"`
	} `yaml:"team"`
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing crew in %s...\n\n", absPath)

	configPath := filepath.Join(absPath, config.ProjectConfigName)
	if _, err := os.Stat(configPath); err == nil && !initForce {
		fmt.Printf("Directory already initialized. Use --force to rewrite %s.\n", config.ProjectConfigName)
		return nil
	}

	if err := writeStarterConfig(configPath); err != nil {
		return fmt.Errorf("writing %s: %w", config.ProjectConfigName, err)
	}
	printStatus("✓", "Wrote "+config.ProjectConfigName, color.FgGreen)

	dataDir := filepath.Join(absPath, ".crew")
	for _, sub := range []string{"logs", "signals"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0755); err != nil {
			return fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}
	printStatus("✓", "Created .crew directory structure", color.FgGreen)

	if _, err := os.Stat(filepath.Join(absPath, ".git")); err == nil {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore with crew entries", color.FgGreen)
	}

	if key, source, err := config.ResolveAPIKey(nil); err != nil {
		printStatus("⚠", "No Anthropic API key found (only needed for --runner claude)", color.FgYellow)
	} else {
		printStatus("✓", fmt.Sprintf("Anthropic API key %s (from %s)", config.MaskAPIKey(key), source), color.FgGreen)
	}

	fmt.Printf("\n%s crew initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Run a requirement through the pipeline:")
	fmt.Println("     crew run \"build a backend API with database\"")
	fmt.Println()
	fmt.Println("  2. Or manage tasks by hand:")
	fmt.Println("     crew task create \"Design the schema\" --assignee architect")
	fmt.Println()
	fmt.Println("  3. Learn more:")
	fmt.Println("     crew --help")

	return nil
}

// writeStarterConfig marshals the starter configuration with a short
// header comment.
func writeStarterConfig(path string) error {
	starter := starterConfig{}
	starter.Defaults.MaxParallel = 3
	starter.Defaults.MaxIterations = 3
	starter.Runner.Kind = "noop"
	starter.Storage.DataDir = ".crew"
	starter.Team.QualityGates = []string{
		"architecture_approved",
		"tests_passing",
		"review_approved",
		"qa_validated",
	}

	var buf bytes.Buffer
	buf.WriteString("# crew project configuration.\n")
	buf.WriteString("# Overrides ~/.config/crew/config.yaml for this repository.\n")
	buf.WriteString("#\n")
	buf.WriteString("# runner.kind: noop | command | claude\n")
	buf.WriteString("# team.quality_gates replaces the default gate set on new tasks.\n")
	buf.WriteString("# team.roles adds assignees beyond the built-in five.\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(starter); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	return os.WriteFile(path, buf.Bytes(), 0644)
}

// updateGitignore adds crew entries to .gitignore if not present.
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	crewEntries := []string{
		".crew/",
		"crew",
	}

	needsUpdate := false
	for _, entry := range crewEntries {
		if !strings.Contains(existingContent, entry) {
			needsUpdate = true
			break
		}
	}
	if !needsUpdate {
		return nil
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)
	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}
	newContent.WriteString("\n# crew\n")
	for _, entry := range crewEntries {
		if !strings.Contains(existingContent, entry) {
			newContent.WriteString(entry + "\n")
		}
	}

	return os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}
