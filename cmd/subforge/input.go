package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"subforge/internal/pkg/errors"
)

// readInput decodes a YAML or JSON file into v. Field names follow the
// JSON tags of v either way. "-" reads stdin.
func readInput(in io.Reader, path string, v any) error {
	var (
		data []byte
		err  error
	)
	switch strings.TrimSpace(path) {
	case "":
		return errors.ValidationField("file", "an input file is required (-f)")
	case "-":
		data, err = io.ReadAll(in)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return errors.Wrap(err, "cli.input", "read input").WithField("file", path)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "cli.input", "parse input").WithField("file", path)
	}
	// Round trip through JSON so one set of struct tags serves both formats.
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "cli.input", "convert input").WithField("file", path)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "cli.input", "decode input").WithField("file", path)
	}
	return nil
}
