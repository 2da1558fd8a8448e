package main

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"

	"github.com/crewdev/crew/internal/config"
	"github.com/crewdev/crew/internal/coordinator"
	"github.com/crewdev/crew/internal/runner"
	"github.com/crewdev/crew/internal/state"
	"github.com/crewdev/crew/pkg/models"
)

// openFacade wires a coordinator over the configured store and team
// policy. This is enough for the snapshot-backed commands; run and
// watch build their own coordinator with a real runner attached.
func openFacade() (*coordinator.Coordinator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	db, err := state.Open(cfg.StatePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	opts := append([]coordinator.Option{coordinator.WithStore(db)}, policyOptions()...)
	co, err := coordinator.New(cfg, opts...)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		co.Close()
		db.Close()
	}
	return co, cleanup, nil
}

// policyOptions loads the project team policy. A broken policy file is
// reported but never fails the command.
func policyOptions() []coordinator.Option {
	policy, err := config.FindTeamPolicy()
	if err != nil {
		fmt.Printf("Warning: team policy ignored: %v\n", err)
		return nil
	}
	if policy.Empty() {
		return nil
	}
	return []coordinator.Option{coordinator.WithPolicy(*policy)}
}

// buildRunner selects the task runner: the flag value wins, then the
// configured kind, then noop.
func buildRunner(cfg *config.Config, kind, command string) (runner.Runner, error) {
	if kind == "" {
		kind = cfg.Runner.Kind
	}
	switch kind {
	case "", "noop":
		return runner.NoopRunner{}, nil
	case "command":
		if command == "" {
			command = cfg.Runner.Command
		}
		if strings.TrimSpace(command) == "" {
			return nil, fmt.Errorf("command runner needs --command or runner.command in config")
		}
		return runner.NewCommandRunner(command, cfg.Runner.WorkDir), nil
	case "claude":
		rcfg := runner.ClaudeConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		}
		if !cfg.Anthropic.UseBedrock {
			key, _, err := config.ResolveAPIKey(cfg)
			if err != nil {
				return nil, fmt.Errorf("claude runner: %w (set ANTHROPIC_API_KEY or anthropic.api_key)", err)
			}
			rcfg.APIKey = key
		}
		return runner.NewClaudeRunner(rcfg)
	default:
		return nil, fmt.Errorf("unknown runner %q: must be noop, command, or claude", kind)
	}
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// statusColor maps a task status onto its display color.
func statusColor(status models.TaskStatus) *color.Color {
	switch status {
	case models.TaskStatusComplete:
		return color.New(color.FgGreen)
	case models.TaskStatusFailed:
		return color.New(color.FgRed)
	case models.TaskStatusBlocked:
		return color.New(color.FgYellow)
	case models.TaskStatusNew:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgCyan)
	}
}
