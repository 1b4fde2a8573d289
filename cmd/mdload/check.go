package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/mdload/internal/quality"
)

// checkResult is the verdict for one markdown file.
type checkResult struct {
	Path    string `json:"path"`
	Suspect bool   `json:"suspect"`
	Reason  string `json:"reason,omitempty"`
}

// newCheckCmd creates the check subcommand.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file.md>...",
		Short: "Run the quality heuristics over markdown files",
		Long: `Check applies the same heuristics that decide escalation to existing
markdown files. It exits with status 2 when any file looks broken.`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{noConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := checkFiles(quality.NewHeuristic(), args)
			if err != nil {
				return err
			}

			ui := NewUI(outputJSON, noColor)
			if outputJSON {
				if err := json.NewEncoder(ui.out).Encode(results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Suspect {
						ui.Warning("%s: suspect (%s)", r.Path, r.Reason)
					} else {
						ui.Success("%s: ok", r.Path)
					}
				}
			}

			for _, r := range results {
				if r.Suspect {
					return &exitError{code: 2}
				}
			}
			return nil
		},
	}
}

func checkFiles(h *quality.Heuristic, paths []string) ([]checkResult, error) {
	if h == nil {
		h = quality.NewHeuristic()
	}
	results := make([]checkResult, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		reason := h.Reason(string(data))
		results = append(results, checkResult{
			Path:    path,
			Suspect: reason != quality.ReasonNone,
			Reason:  string(reason),
		})
	}
	return results, nil
}
