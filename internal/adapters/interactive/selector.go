package interactive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/sahilm/fuzzy"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// SelectorAdapter handles interactive prompts
type SelectorAdapter struct {
	config *config.RuntimeConfig
}

// NewSelectorAdapter creates a new selector adapter
func NewSelectorAdapter(cfg *config.RuntimeConfig) *SelectorAdapter {
	return &SelectorAdapter{config: cfg}
}

// SelectArtifact asks the operator to pick one of several artifact refs
func (s *SelectorAdapter) SelectArtifact(ctx context.Context, refs []string, prompt string) (string, error) {
	if s.config.NonInteractive {
		return "", fmt.Errorf("interactive selection not available in non-interactive mode")
	}
	if len(refs) == 0 {
		return "", fmt.Errorf("no artifacts provided for selection")
	}
	if len(refs) == 1 {
		return refs[0], nil
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ . | cyan }}",
		Inactive: "  {{ . | faint }}",
		Selected: "✓ {{ . | green }}",
		Help:     color.New(color.FgYellow).Sprint("Use arrow keys to navigate, Enter to select"),
	}

	promptSelect := promptui.Select{
		Label:             prompt,
		Items:             refs,
		Templates:         templates,
		Size:              10,
		StartInSearchMode: len(refs) > 10,
		Searcher:          createFuzzySearchFunc(refs),
	}

	index, _, err := promptSelect.Run()
	if err != nil {
		return "", fmt.Errorf("selection cancelled: %w", err)
	}
	return refs[index], nil
}

// ConfirmUpgrade prints what is about to happen and asks for a y/N answer
func (s *SelectorAdapter) ConfirmUpgrade(ctx context.Context, plan *usecase.UpgradePlanSummary) (bool, error) {
	if s.config.NonInteractive {
		return false, fmt.Errorf("upgrade needs confirmation; pass --yes in non-interactive mode")
	}

	bold := color.New(color.Bold)
	fmt.Printf("\n%s %s on %s\n", bold.Sprint("Upgrade"), plan.Proxy.DisplayName(), plan.Network)
	fmt.Printf("  from %s (%s)\n", plan.Proxy.CurrentImplementation.Hex(), plan.Baseline)
	if plan.Implementation != nil {
		fmt.Printf("  to   %s (%s, already deployed)\n", plan.Implementation.Hex(), plan.Artifact)
	} else {
		fmt.Printf("  to   %s (new deployment)\n", plan.Artifact)
	}
	if plan.Verdict != nil && len(plan.Verdict.Appended) > 0 {
		labels := make([]string, 0, len(plan.Verdict.Appended))
		for _, slot := range plan.Verdict.Appended {
			labels = append(labels, slot.Label)
		}
		fmt.Printf("  appends %s\n", strings.Join(labels, ", "))
	}
	if plan.Verdict != nil {
		for _, w := range plan.Verdict.Warnings {
			color.New(color.FgYellow).Printf("  warning: %s\n", w.Message)
		}
	}

	prompt := promptui.Prompt{
		Label:     "Send upgrade transaction",
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// createFuzzySearchFunc creates a fuzzy search function for promptui
func createFuzzySearchFunc(items []string) func(input string, index int) bool {
	return func(input string, index int) bool {
		if input == "" {
			return true
		}

		input = strings.ToLower(input)
		item := strings.ToLower(items[index])
		if strings.Contains(item, input) {
			return true
		}
		return len(fuzzy.Find(input, []string{item})) > 0
	}
}

// Ensure the adapter implements the interfaces
var (
	_ usecase.UpgradeConfirmer = (*SelectorAdapter)(nil)
	_ usecase.ArtifactSelector = (*SelectorAdapter)(nil)
)
