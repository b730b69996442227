// Package dataset loads the initial feature table the pipeline ingests:
// tabular records keyed by (date, channel) with sales, volume, and
// per-channel spend columns, as produced by the upstream ingestion
// collaborators.
package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jguan/mmx-optimizer/pkg/mmm"
)

const spendSuffix = "_spend"

// Table is the parsed feature table, column-oriented. Channel spend
// series align index-for-index with Dates.
type Table struct {
	Dates    []time.Time          `json:"dates"`
	Sales    []float64            `json:"sales"`
	Volume   []float64            `json:"total_volume"`
	Spend    map[string][]float64 `json:"spend"`
	Channels []string             `json:"channels"`
}

// Rows returns the number of observations.
func (t *Table) Rows() int { return len(t.Dates) }

// CurrentAllocation sums each channel's spend over the table, the
// baseline the optimizer's deviation caps are measured against.
func (t *Table) CurrentAllocation() map[string]float64 {
	out := make(map[string]float64, len(t.Channels))
	for _, ch := range t.Channels {
		var sum float64
		for _, v := range t.Spend[ch] {
			sum += v
		}
		out[ch] = sum
	}
	return out
}

// MaxSpend returns each channel's peak observed spend, scaled by factor,
// used to size response-curve sampling grids.
func (t *Table) MaxSpend(factor float64) map[string]float64 {
	out := make(map[string]float64, len(t.Channels))
	for _, ch := range t.Channels {
		var peak float64
		for _, v := range t.Spend[ch] {
			if v > peak {
				peak = v
			}
		}
		out[ch] = peak * factor
	}
	return out
}

// LoadCSV reads a feature table from a CSV file.
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mmm.Wrap(err, mmm.CodeValidation, "open feature table")
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a feature table from CSV data. Required columns: date,
// sales (or total_sales), total_volume, and at least one {channel}_spend
// column. Missing required columns fail validation; no partial table is
// returned.
func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, mmm.Wrap(err, mmm.CodeValidation, "read feature table")
	}
	if len(records) < 2 {
		return nil, mmm.New(mmm.CodeValidation, "feature table has no data rows")
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}

	dateIdx, ok := col["date"]
	if !ok {
		return nil, mmm.New(mmm.CodeValidation, "missing required column: date")
	}
	salesIdx, ok := col["sales"]
	if !ok {
		if salesIdx, ok = col["total_sales"]; !ok {
			return nil, mmm.New(mmm.CodeValidation, "missing required column: sales or total_sales")
		}
	}
	volumeIdx, ok := col["total_volume"]
	if !ok {
		return nil, mmm.New(mmm.CodeValidation, "missing required column: total_volume")
	}

	var channels []string
	spendIdx := make(map[string]int)
	for name, i := range col {
		if strings.HasSuffix(name, spendSuffix) && len(name) > len(spendSuffix) {
			ch := strings.TrimSuffix(name, spendSuffix)
			channels = append(channels, ch)
			spendIdx[ch] = i
		}
	}
	if len(channels) == 0 {
		return nil, mmm.New(mmm.CodeValidation, "no {channel}_spend columns found")
	}
	sort.Strings(channels)

	table := &Table{
		Spend:    make(map[string][]float64, len(channels)),
		Channels: channels,
	}

	for rowNum, record := range records[1:] {
		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[dateIdx]))
		if err != nil {
			return nil, mmm.Newf(mmm.CodeValidation, "row %d: bad date %q", rowNum+2, record[dateIdx])
		}
		sales, err := parseFloat(record, salesIdx)
		if err != nil {
			return nil, mmm.Newf(mmm.CodeValidation, "row %d: bad sales value", rowNum+2)
		}
		volume, err := parseFloat(record, volumeIdx)
		if err != nil {
			return nil, mmm.Newf(mmm.CodeValidation, "row %d: bad total_volume value", rowNum+2)
		}

		table.Dates = append(table.Dates, date)
		table.Sales = append(table.Sales, sales)
		table.Volume = append(table.Volume, volume)

		for _, ch := range channels {
			v, err := parseFloat(record, spendIdx[ch])
			if err != nil {
				return nil, mmm.Newf(mmm.CodeValidation, "row %d: bad %s%s value", rowNum+2, ch, spendSuffix)
			}
			table.Spend[ch] = append(table.Spend[ch], v)
		}
	}

	return table, nil
}

func parseFloat(record []string, idx int) (float64, error) {
	if idx >= len(record) {
		return 0, mmm.New(mmm.CodeValidation, "short record")
	}
	s := strings.TrimSpace(record[idx])
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
