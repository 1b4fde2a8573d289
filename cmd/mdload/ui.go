package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/spherical/mdload/pkg/mdload"
)

// UI renders conversion progress and summaries for humans.
type UI struct {
	out      io.Writer
	errOut   io.Writer
	noColor  bool
	jsonMode bool

	spinner *spinner.Spinner
	bar     *progressbar.ProgressBar
	done    int
}

// NewUI creates a new UI instance.
func NewUI(jsonMode, noColor bool) *UI {
	return &UI{
		out:      os.Stdout,
		errOut:   os.Stderr,
		noColor:  noColor || color.NoColor,
		jsonMode: jsonMode,
	}
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	ui.print(color.FgGreen, "✓", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	ui.print(color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	ui.print(color.FgCyan, "ℹ", format, args...)
}

// Error prints an error message to stderr.
func (ui *UI) Error(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if ui.noColor {
		fmt.Fprintf(ui.errOut, "✗ %s\n", msg)
		return
	}
	color.New(color.FgRed).Fprintf(ui.errOut, "✗ %s\n", msg)
}

func (ui *UI) print(attr color.Attribute, symbol, format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if ui.noColor {
		fmt.Fprintf(ui.out, "%s %s\n", symbol, msg)
		return
	}
	color.New(attr).Fprintf(ui.out, "%s %s\n", symbol, msg)
}

// Render consumes events until the channel is closed. The spinner covers
// hashing and splitting; the bar takes over once the unit count is known.
func (ui *UI) Render(events <-chan mdload.StreamEvent) {
	for event := range events {
		ui.handle(event)
	}
	ui.stopSpinner()
	if ui.bar != nil {
		_ = ui.bar.Finish()
	}
}

func (ui *UI) handle(event mdload.StreamEvent) {
	if ui.jsonMode {
		return
	}

	switch event.Type {
	case mdload.EventStart:
		ui.startSpinner(fmt.Sprint(event.Payload))

	case mdload.EventUnitProcessing:
		ui.stopSpinner()
		ui.ensureBar(event.Total)

	case mdload.EventEscalation:
		if esc, ok := event.Payload.(mdload.Escalation); ok && verbose {
			ui.describe(fmt.Sprintf("%s escalation to %s", esc.Kind, esc.To))
		}

	case mdload.EventUnitComplete:
		ui.stopSpinner()
		ui.ensureBar(event.Total)
		ui.done++
		if ui.bar != nil {
			_ = ui.bar.Set(ui.done)
		}

	case mdload.EventError:
		ui.stopSpinner()
		if event.Unit != nil {
			ui.describe(fmt.Sprintf("page %d: %v", *event.Unit, event.Payload))
		}
	}
}

func (ui *UI) describe(msg string) {
	if ui.bar != nil {
		ui.bar.Describe(msg)
	}
}

func (ui *UI) startSpinner(message string) {
	if ui.spinner != nil {
		return
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = ui.errOut
	s.Start()
	ui.spinner = s
}

func (ui *UI) stopSpinner() {
	if ui.spinner != nil {
		ui.spinner.Stop()
		ui.spinner = nil
	}
}

func (ui *UI) ensureBar(total int) {
	if ui.bar != nil || total <= 0 {
		return
	}
	ui.bar = progressbar.NewOptions64(
		int64(total),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription("converting"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(ui.errOut),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("units"),
		progressbar.OptionEnableColorCodes(!ui.noColor),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(ui.errOut, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Summary prints the run statistics after a conversion.
func (ui *UI) Summary(res *mdload.Result, outPath string) {
	s := res.Stats
	ui.Success("Wrote %s (%d units in %s)", outPath, s.Units, s.Duration.Round(time.Millisecond))
	ui.Info("cache hits %d, conversions %d", s.CacheHits, s.Conversions)
	ui.Info("escalations: %d quality (budget %d/%d left), %d forced",
		s.QualityEscalations, s.BudgetRemaining, s.BudgetInitial, s.ForcedEscalations)
	if s.Fallbacks > 0 {
		ui.Warning("%d units kept a weaker tier's text after a failed escalation", s.Fallbacks)
	}
	if s.Errors > 0 {
		ui.Warning("%d units failed on every tier and contain error markers", s.Errors)
		for _, u := range res.Units {
			if u.Source == mdload.SourceError {
				ui.Error("%s: %s", unitLabel(u.Index), u.Error)
			}
		}
	}
}

func unitLabel(index *int) string {
	if index == nil {
		return "doc"
	}
	return fmt.Sprintf("page %d", *index)
}
