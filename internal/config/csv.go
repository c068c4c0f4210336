package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"touchkbd/internal/core/geometry"
)

// CodeParser converts a key name or numeric code into a key code.
type CodeParser func(string) (uint16, error)

var (
	layoutColumns = []string{"x", "y", "width", "height", "name", "code", "name_fn", "code_fn"}
	hwColumns     = []string{"resolution_x", "resolution_y", "width_mm", "height_mm", "left_margin_mm", "top_margin_mm", "rotation_cw"}
)

type csvTable struct {
	index map[string]int
	rows  [][]string
	path  string
}

func readCSV(path string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCSV(path, f)
}

func parseCSV(path string, r io.Reader) (*csvTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: missing header", path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	table := &csvTable{index: make(map[string]int, len(header)), path: path}
	for i, name := range header {
		table.index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		table.rows = append(table.rows, row)
	}
	return table, nil
}

func (t *csvTable) require(columns ...string) error {
	for _, column := range columns {
		if _, ok := t.index[column]; !ok {
			return fmt.Errorf("%s: missing column %q", t.path, column)
		}
	}
	return nil
}

func (t *csvTable) field(row []string, column string) string {
	i, ok := t.index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *csvTable) float(row []string, line int, column string) (float64, error) {
	raw := t.field(row, column)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s row %d: invalid %s %q", t.path, line, column, raw)
	}
	return v, nil
}

func (t *csvTable) int(row []string, line int, column string) (int, error) {
	raw := t.field(row, column)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s row %d: invalid %s %q", t.path, line, column, raw)
	}
	return v, nil
}

// LoadHWConfigCSV reads the sensor geometry from the first data row of a
// touch-hw.csv file.
func LoadHWConfigCSV(path string) (geometry.HWConfig, error) {
	table, err := readCSV(path)
	if err != nil {
		return geometry.HWConfig{}, fmt.Errorf("load hardware config: %w", err)
	}
	return hwFromTable(table)
}

func hwFromTable(table *csvTable) (geometry.HWConfig, error) {
	if err := table.require(hwColumns...); err != nil {
		return geometry.HWConfig{}, err
	}
	if len(table.rows) == 0 {
		return geometry.HWConfig{}, fmt.Errorf("%s: no data row", table.path)
	}
	row := table.rows[0]

	var (
		hw   geometry.HWConfig
		ints [3]int
		errs []error
	)
	for i, column := range []string{"resolution_x", "resolution_y", "rotation_cw"} {
		v, err := table.int(row, 1, column)
		errs = append(errs, err)
		ints[i] = v
	}
	floats := make([]float64, 4)
	for i, column := range []string{"width_mm", "height_mm", "left_margin_mm", "top_margin_mm"} {
		v, err := table.float(row, 1, column)
		errs = append(errs, err)
		floats[i] = v
	}
	if err := errors.Join(errs...); err != nil {
		return geometry.HWConfig{}, err
	}

	rotation, err := geometry.ParseRotation(ints[2])
	if err != nil {
		return geometry.HWConfig{}, fmt.Errorf("%s: %w", table.path, err)
	}
	hw = geometry.HWConfig{
		ResolutionX:  int32(ints[0]),
		ResolutionY:  int32(ints[1]),
		WidthMM:      floats[0],
		HeightMM:     floats[1],
		LeftMarginMM: floats[2],
		TopMarginMM:  floats[3],
		Rotation:     rotation,
	}
	if err := hw.Validate(); err != nil {
		return geometry.HWConfig{}, fmt.Errorf("%s: %w", table.path, err)
	}
	return hw, nil
}

// LoadLayoutCSV reads key rows from a layout.csv file. The code columns
// accept numbers or key names; an empty code falls back to the name column.
func LoadLayoutCSV(path string, parse CodeParser) ([]geometry.KeySpec, error) {
	table, err := readCSV(path)
	if err != nil {
		return nil, fmt.Errorf("load layout: %w", err)
	}
	return keysFromTable(table, parse)
}

func keysFromTable(table *csvTable, parse CodeParser) ([]geometry.KeySpec, error) {
	if err := table.require(layoutColumns[:6]...); err != nil {
		return nil, err
	}
	if len(table.rows) == 0 {
		return nil, fmt.Errorf("%s: layout has no keys", table.path)
	}

	specs := make([]geometry.KeySpec, 0, len(table.rows))
	for i, row := range table.rows {
		line := i + 1
		var rect geometry.RectMM
		var errs []error
		for _, f := range []struct {
			column string
			dst    *float64
		}{
			{"x", &rect.X}, {"y", &rect.Y}, {"width", &rect.Width}, {"height", &rect.Height},
		} {
			v, err := table.float(row, line, f.column)
			errs = append(errs, err)
			*f.dst = v
		}
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}

		name := table.field(row, "name")
		code, err := resolveCode(parse, table.field(row, "code"), name)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: key %q: %w", table.path, line, name, err)
		}

		spec := geometry.KeySpec{Name: name, Code: code, Rect: rect}
		fnName, fnRaw := table.field(row, "name_fn"), table.field(row, "code_fn")
		if fnName != "" || (fnRaw != "" && fnRaw != "0") {
			fnCode, err := resolveCode(parse, fnRaw, fnName)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: fn key %q: %w", table.path, line, fnName, err)
			}
			spec.ShiftedName = fnName
			spec.ShiftedCode = fnCode
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func resolveCode(parse CodeParser, raw, name string) (uint16, error) {
	if raw != "" && raw != "0" {
		if v, err := strconv.ParseUint(raw, 10, 16); err == nil {
			return uint16(v), nil
		}
		return parse(raw)
	}
	if name == "" {
		return 0, fmt.Errorf("no code or name")
	}
	return parse(name)
}

// LoadLayout reads layout.csv and maps it onto the sensor.
func LoadLayout(path string, hw geometry.HWConfig, parse CodeParser) (*geometry.Layout, error) {
	specs, err := LoadLayoutCSV(path, parse)
	if err != nil {
		return nil, err
	}
	return geometry.BuildLayout(hw, specs)
}
