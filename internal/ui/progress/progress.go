// Package progress implements the terminal niceties of the trainer: graceful
// Ctrl+C handling, the per-batch progress bar and the styled accuracy report.
package progress

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
	"k8s.io/klog/v2"
)

// SafeInterrupt captures SigInt (Ctrl+C) and SigTerm and calls the provided
// onInterrupt. If the program hasn't exited after gracePeriod, it resets the
// terminal and exits.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		fmt.Println()
		klog.Errorf("Got interrupted (signal %q), shutting down... (%s)", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}

		// Wait for gracePeriod before forcing the exit.
		time.Sleep(gracePeriod)
		Reset()
		klog.Fatalf("Graceful shutting down %s period expired, exiting.", gracePeriod)
	}()
}

// Reset terminal: make cursor visible, restore default terminal colors.
func Reset() {
	fmt.Print("\033[?25h\033[39;49;0m\n")
}

// IsTTY reports whether stdout is a terminal. When it is not (logs, CI), the
// progress bar is skipped and only the epoch summaries are printed.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// NewBar creates the per-epoch progress bar over numBatches training steps.
// Returns nil when stdout is not a terminal; all Bar methods accept nil.
func NewBar(description string, numBatches int) *Bar {
	if !IsTTY() {
		return nil
	}
	return &Bar{bar: progressbar.NewOptions(numBatches,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)}
}

// Bar wraps the progress bar shown while iterating the training batches,
// carrying the running loss/accuracy in its description.
type Bar struct {
	bar *progressbar.ProgressBar
}

// Step advances the bar by one batch and refreshes the running stats.
func (b *Bar) Step(loss, accuracy float32) {
	if b == nil {
		return
	}
	b.bar.Describe(fmt.Sprintf("loss=%.3f acc=%5.2f%%", loss, 100*accuracy))
	_ = b.bar.Add(1)
}

// Done finishes the bar, releasing the terminal line.
func (b *Bar) Done() {
	if b == nil {
		return
	}
	_ = b.bar.Finish()
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	summaryBox  = lipgloss.NewStyle().Padding(0, 2).Border(lipgloss.RoundedBorder())
)

// FormatSummary renders the one-line end-of-epoch (or final) summary.
func FormatSummary(title string, accuracy float32) string {
	style := badStyle
	if accuracy >= 0.5 {
		style = goodStyle
	}
	return summaryBox.Render(fmt.Sprintf("%s: accuracy %s",
		headerStyle.Render(title), style.Render(fmt.Sprintf("%.2f%%", 100*accuracy))))
}

// ClassAccuracy is one row of the per-class report.
type ClassAccuracy struct {
	Name     string
	Accuracy float32
	Total    int
}

// FormatPerClass renders the per-class accuracy table.
func FormatPerClass(rows []ClassAccuracy) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("Accuracy per class:"))
	sb.WriteString("\n")
	for _, row := range rows {
		style := badStyle
		if row.Accuracy >= 0.5 {
			style = goodStyle
		}
		sb.WriteString(fmt.Sprintf("  %-8s %s  (%d examples)\n",
			row.Name, style.Render(fmt.Sprintf("%5.1f%%", 100*row.Accuracy)), row.Total))
	}
	return sb.String()
}
