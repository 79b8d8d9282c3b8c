package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"subforge/internal/pkg/errors"
	"subforge/internal/timing"
)

// tokensInput accepts a bare token list or an alignment object.
type tokensInput []timing.TokenTiming

func (t *tokensInput) UnmarshalJSON(data []byte) error {
	var list []timing.TokenTiming
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var a timing.Alignment
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = a.Tokens
	return nil
}

type displayOutput struct {
	Index int    `json:"index"`
	From  int    `json:"from"`
	To    int    `json:"to"`
	Line  string `json:"line"`
}

func newDisplayCommand() *cobra.Command {
	var (
		file, format string
		at           float64
		window       int
	)

	cmd := &cobra.Command{
		Use:   "display",
		Short: "Show the active token and visible window at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if math.IsNaN(at) || math.IsInf(at, 0) {
				return errors.ValidationField("at", "--at must be a finite time")
			}
			if window <= 0 {
				return errors.ValidationField("window", "--window must be positive")
			}
			var tokens tokensInput
			if err := readInput(cmd.InOrStdin(), file, &tokens); err != nil {
				return err
			}

			f := timing.Display(tokens, at, window)
			res := displayOutput{Index: f.Active, From: f.From, To: f.To, Line: displayLine(tokens, f)}

			out, err := outputFormat(cmd.OutOrStdout(), format)
			if err != nil {
				return err
			}
			if out == formatJSON {
				return writeJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Line)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Token timings file (YAML or JSON, - for stdin)")
	cmd.Flags().Float64Var(&at, "at", 0, "Playback time in seconds, relative to the segment")
	cmd.Flags().IntVar(&window, "window", timing.DefaultWindowSize, "Number of tokens shown at once")
	cmd.Flags().StringVarP(&format, "output", "o", formatAuto, "Output format: table, json or auto")
	return cmd
}

// displayLine renders the window with the active token in brackets.
func displayLine(tokens []timing.TokenTiming, f timing.Frame) string {
	words := make([]string, 0, f.Len())
	for i := f.From; i < f.To; i++ {
		w := tokens[i].Word
		if i == f.Active {
			w = "[" + w + "]"
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}
