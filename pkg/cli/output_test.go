package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatOutput_JSON(t *testing.T) {
	out, err := FormatOutput(map[string]any{"run_id": "r1", "status": "pending"}, OutputJSON)
	require.NoError(t, err)
	assert.Contains(t, out, `"run_id": "r1"`)
	assert.Contains(t, out, `"status": "pending"`)
}

func TestFormatOutput_YAML(t *testing.T) {
	out, err := FormatOutput(map[string]any{"run_id": "r1"}, OutputYAML)
	require.NoError(t, err)
	assert.Contains(t, out, "run_id: r1")
}

func TestFormatOutput_Table(t *testing.T) {
	type summary struct {
		RunID  string  `json:"run_id"`
		Status string  `json:"status"`
		Lift   float64 `json:"lift"`
	}

	out, err := FormatOutput(summary{RunID: "r1", Status: "completed", Lift: 12.5}, OutputTable)
	require.NoError(t, err)
	assert.Contains(t, out, "run_id")
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "12.5000")
}

func TestFormatOutput_TableScalar(t *testing.T) {
	out, err := FormatOutput("done", OutputTable)
	require.NoError(t, err)
	assert.Equal(t, "\"done\"\n", out)
}

func TestPrintOutput_Quiet(t *testing.T) {
	buf := &bytes.Buffer{}
	opts := &OutputOptions{Format: OutputJSON, Quiet: true, Writer: buf}

	require.NoError(t, PrintOutput(map[string]string{"x": "y"}, opts))
	assert.Empty(t, buf.String())
}

func TestPrintSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	opts := &OutputOptions{Format: OutputTable, Writer: buf}

	PrintSuccess("run submitted", opts)
	assert.Equal(t, "run submitted\n", buf.String())

	buf.Reset()
	opts.Format = OutputJSON
	PrintSuccess("run submitted", opts)
	assert.Contains(t, buf.String(), `"success": true`)
}
