package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// stages shown in the spinner line, in order
var upgradeStages = []usecase.UpgradeStage{
	usecase.StageResolving,
	usecase.StageChecking,
	usecase.StageDeploying,
	usecase.StageSubmitting,
	usecase.StageConfirming,
}

// SpinnerProgressReporter renders upgrade stages behind a spinner
type SpinnerProgressReporter struct {
	mu      sync.Mutex
	spinner *spinner.Spinner
	out     io.Writer
	stages  []stageInfo
}

type stageInfo struct {
	Stage     usecase.UpgradeStage
	StartTime time.Time
	EndTime   time.Time
	Status    string
	Message   string
}

// NewSpinnerProgressReporter creates a new spinner-based progress reporter
func NewSpinnerProgressReporter() *SpinnerProgressReporter {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.HideCursor = false

	return &SpinnerProgressReporter{
		spinner: s,
		out:     os.Stderr,
	}
}

// OnProgress advances the stage line. Events for an unknown stage only
// update the message of the current one.
func (r *SpinnerProgressReporter) OnProgress(ctx context.Context, event usecase.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stage := usecase.UpgradeStage(event.Stage)
	switch {
	case stage == usecase.StageCompleted:
		r.completeCurrentStage("completed")
		r.spinner.Stop()
		r.stages = nil
		return
	case isUpgradeStage(stage) && (len(r.stages) == 0 || r.stages[len(r.stages)-1].Stage != stage):
		r.completeCurrentStage("completed")
		r.stages = append(r.stages, stageInfo{Stage: stage, StartTime: time.Now(), Status: "running"})
	}

	if len(r.stages) > 0 {
		r.stages[len(r.stages)-1].Message = event.Message
	}

	if event.Spinner {
		if !r.spinner.Active() {
			r.spinner.Start()
		}
	} else if r.spinner.Active() {
		r.spinner.Stop()
	}
	r.spinner.Suffix = " " + r.display()
}

// Info prints an info message
func (r *SpinnerProgressReporter) Info(message string) {
	r.println(color.New(color.FgCyan), message)
}

// Error prints an error message
func (r *SpinnerProgressReporter) Error(message string) {
	r.println(color.New(color.FgRed), message)
}

func (r *SpinnerProgressReporter) println(c *color.Color, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasActive := r.spinner.Active()
	if wasActive {
		r.spinner.Stop()
	}
	c.Fprintln(r.out, message)
	if wasActive {
		r.spinner.Start()
	}
}

func (r *SpinnerProgressReporter) completeCurrentStage(status string) {
	if len(r.stages) == 0 {
		return
	}
	last := &r.stages[len(r.stages)-1]
	if last.EndTime.IsZero() {
		last.EndTime = time.Now()
		last.Status = status
	}
}

// display renders "✓ Resolving (12ms) → ● Checking (0s) layout diff"
func (r *SpinnerProgressReporter) display() string {
	parts := make([]string, 0, len(r.stages))
	for _, stage := range r.stages {
		var icon string
		var stageColor *color.Color
		switch stage.Status {
		case "completed":
			icon = "✓"
			stageColor = color.New(color.FgGreen)
		case "running":
			icon = "●"
			stageColor = color.New(color.FgYellow)
		default:
			icon = "○"
			stageColor = color.New(color.FgWhite)
		}

		duration := ""
		if !stage.EndTime.IsZero() {
			duration = fmt.Sprintf(" (%s)", stage.EndTime.Sub(stage.StartTime).Round(time.Millisecond))
		} else {
			duration = fmt.Sprintf(" (%s)", time.Since(stage.StartTime).Round(time.Second))
		}
		parts = append(parts, fmt.Sprintf("%s %s%s", icon, stageColor.Sprint(string(stage.Stage)), duration))
	}

	line := strings.Join(parts, " → ")
	if len(r.stages) > 0 && r.stages[len(r.stages)-1].Message != "" {
		line += " " + color.New(color.Faint).Sprint(r.stages[len(r.stages)-1].Message)
	}
	return line
}

func isUpgradeStage(stage usecase.UpgradeStage) bool {
	for _, s := range upgradeStages {
		if s == stage {
			return true
		}
	}
	return false
}

// Ensure SpinnerProgressReporter implements ProgressSink
var _ usecase.ProgressSink = (*SpinnerProgressReporter)(nil)
