package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ErrUnknownFormat is returned for an unsupported --output value.
var ErrUnknownFormat = errors.New("unknown output format (use table, json or yaml)")

// Result is what the fetch command prints.
type Result struct {
	Host    string          `json:"host" yaml:"host"`
	Check   string          `json:"check" yaml:"check"`
	Period  string          `json:"period" yaml:"period"`
	Count   int             `json:"count" yaml:"count"`
	Samples []domain.Sample `json:"samples" yaml:"samples"`
}

// WriteResult renders result in the given format.
func WriteResult(w io.Writer, format string, result Result) error {
	if result.Samples == nil {
		result.Samples = []domain.Sample{}
	}
	result.Count = len(result.Samples)

	switch format {
	case FormatTable:
		return writeTable(w, result)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML:
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeTable(w io.Writer, result Result) error {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(fmt.Sprintf("%s / %s (%s)", result.Host, result.Check, result.Period))

	tbl.AppendHeader(table.Row{"#", "Timestamp", "Kind", "Value"})
	for i, s := range result.Samples {
		tbl.AppendRow(table.Row{
			i + 1,
			s.Timestamp.UTC().Format(time.RFC3339),
			string(s.Kind),
			strconv.FormatFloat(s.Value, 'f', -1, 64),
		})
	}
	tbl.AppendFooter(table.Row{"", "", "Total", result.Count})

	_, err := fmt.Fprintln(w, tbl.Render())
	return err
}
