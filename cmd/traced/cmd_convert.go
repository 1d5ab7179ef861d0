package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buildwithtrace/trace-agent/internal/convert"
)

var convertCmd = &cobra.Command{
	Use:   "convert [design-file]",
	Short: "Convert between trace and KiCad representations",
	Long: `Runs one conversion through the converter subprocess. The
direction follows the input extension: a trace file produces its KiCad
counterpart and vice versa.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func runConvert(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	input, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	req, err := conversionRequest(input)
	if err != nil {
		return err
	}

	res := a.converter.Convert(cmd.Context(), req)
	if !res.Success {
		return fmt.Errorf("conversion failed: %s", res.Error)
	}
	fmt.Printf("Converted %s -> %s\n", input, req.Output)
	return nil
}

// conversionRequest derives direction and output path from the input
// extension. An existing output of the opposite representation is
// passed along so the converter can merge instead of regenerate.
func conversionRequest(input string) (convert.Request, error) {
	var req convert.Request
	switch {
	case strings.HasSuffix(input, ".trace_sch"), strings.HasSuffix(input, ".trace_pcb"):
		req.From, req.To = convert.FormatsFor(input)
		req.Input = input
		req.Output = convert.NativePathFor(input)
		if fileHasContent(req.Output) {
			if strings.HasSuffix(input, ".trace_pcb") {
				req.ExistingPcb = req.Output
			} else {
				req.ExistingSch = req.Output
			}
		}
	case strings.HasSuffix(input, ".kicad_sch"), strings.HasSuffix(input, ".kicad_pcb"):
		tracePath := convert.TracePathFor(input)
		from, to := convert.FormatsFor(tracePath)
		// Reverse direction: native back into trace.
		req.From, req.To = to, from
		req.Input = input
		req.Output = tracePath
	default:
		return req, fmt.Errorf("unsupported design file: %s", input)
	}
	return req, nil
}

func fileHasContent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
