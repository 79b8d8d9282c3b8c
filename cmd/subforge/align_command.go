package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"subforge/internal/pkg/errors"
	"subforge/internal/timing"
)

// alignInput is either one segment inline or a list under "segments".
type alignInput struct {
	timing.Segment
	Segments []timing.Segment `json:"segments,omitempty"`
}

func (in alignInput) segments() []timing.Segment {
	if len(in.Segments) > 0 {
		return in.Segments
	}
	if in.Text == "" && len(in.Words) == 0 {
		return nil
	}
	return []timing.Segment{in.Segment}
}

func newAlignCommand() *cobra.Command {
	var file, format string

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Derive per-token timings for caption segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in alignInput
			if err := readInput(cmd.InOrStdin(), file, &in); err != nil {
				return err
			}
			segments := in.segments()
			if len(segments) == 0 {
				return errors.ValidationField("segments", "input holds no segment")
			}

			alignments := make([]timing.Alignment, len(segments))
			for i, seg := range segments {
				alignments[i] = timing.AlignSegment(seg)
			}

			out, err := outputFormat(cmd.OutOrStdout(), format)
			if err != nil {
				return err
			}
			if out == formatJSON {
				if len(alignments) == 1 {
					return writeJSON(cmd, alignments[0])
				}
				return writeJSON(cmd, map[string]any{"alignments": alignments})
			}
			fmt.Fprintln(cmd.OutOrStdout(), alignmentTable(alignments))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Segment file (YAML or JSON, - for stdin)")
	cmd.Flags().StringVarP(&format, "output", "o", formatAuto, "Output format: table, json or auto")
	return cmd
}

func alignmentTable(alignments []timing.Alignment) string {
	var rows [][]string
	for si, a := range alignments {
		seg := strconv.Itoa(si + 1)
		if !a.Available {
			rows = append(rows, []string{seg, "-", "timings unavailable", "", ""})
			continue
		}
		for ti, tok := range a.Tokens {
			rows = append(rows, []string{
				seg,
				strconv.Itoa(ti),
				tok.Word,
				formatSeconds(tok.Start),
				formatSeconds(tok.End),
			})
		}
	}
	return renderTable(
		[]string{"Segment", "#", "Token", "Start", "End"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignRight, alignRight},
	)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
