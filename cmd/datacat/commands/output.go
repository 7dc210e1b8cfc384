package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/teranos/datacat/errors"
)

// OutputFormat is set by the root --format flag.
var OutputFormat = "table"

// structured prints v as YAML or JSON and reports whether it did. Table
// output is left to the caller.
func structured(v interface{}) (bool, error) {
	switch OutputFormat {
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, errors.Wrap(err, "failed to marshal YAML")
		}
		fmt.Print(string(data))
		return true, nil
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, errors.Wrap(err, "failed to marshal JSON")
		}
		fmt.Println(string(data))
		return true, nil
	case "table", "":
		return false, nil
	default:
		return true, errors.Newf("unsupported format: %s (supported: table, yaml, json)", OutputFormat)
	}
}

func renderTable(header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
