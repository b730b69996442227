package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

type OutputOptions struct {
	Format OutputFormat
	Quiet  bool
	Writer io.Writer
}

func NewOutputOptions() *OutputOptions {
	return &OutputOptions{
		Format: OutputTable,
		Quiet:  false,
		Writer: os.Stdout,
	}
}

func FormatOutput(data any, format OutputFormat) (string, error) {
	switch format {
	case OutputJSON:
		return formatJSON(data)
	case OutputYAML:
		return formatYAML(data)
	default:
		return formatTable(data)
	}
}

func formatJSON(data any) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal JSON: %w", err)
	}
	return string(b), nil
}

func formatYAML(data any) (string, error) {
	b, err := yaml.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal YAML: %w", err)
	}
	return string(b), nil
}

// formatTable renders data as a two-column key/value listing. Structs are
// flattened through their JSON representation so the table shows the same
// field names as -o json.
func formatTable(data any) (string, error) {
	if data == nil {
		return "", nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal for table output: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		// Not an object; print the scalar or array as-is.
		return strings.TrimSpace(string(b)) + "\n", nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, formatValue(m[k]))
	}
	w.Flush()
	return sb.String(), nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.4f", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func PrintOutput(data any, opts *OutputOptions) error {
	if opts.Quiet {
		return nil
	}

	output, err := FormatOutput(data, opts.Format)
	if err != nil {
		return err
	}

	fmt.Fprint(opts.Writer, output)
	if !strings.HasSuffix(output, "\n") {
		fmt.Fprintln(opts.Writer)
	}
	return nil
}

func PrintError(err error, opts *OutputOptions) {
	if opts.Format == OutputJSON || opts.Format == OutputYAML {
		data := map[string]any{
			"success": false,
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		out, _ := FormatOutput(data, opts.Format)
		fmt.Fprintln(os.Stderr, strings.TrimRight(out, "\n"))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

func PrintSuccess(message string, opts *OutputOptions) {
	if opts.Quiet {
		return
	}

	if opts.Format == OutputJSON || opts.Format == OutputYAML {
		data := map[string]any{
			"success": true,
			"message": message,
		}
		out, _ := FormatOutput(data, opts.Format)
		fmt.Fprintln(opts.Writer, strings.TrimRight(out, "\n"))
	} else {
		fmt.Fprintln(opts.Writer, message)
	}
}
