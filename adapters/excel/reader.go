package excel

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gorisk/domain/core"

	"github.com/xuri/excelize/v2"
)

// ReadChains reads multi-chain draws from a workbook so they can be diagnosed.
// Sheets named "Chain <n>" are read in chain order; a workbook without them is
// read sheet by sheet, each sheet one chain. The first row holds parameter
// names. A leading "draw" column and trailing kernel statistics are ignored.
func ReadChains(r io.Reader) ([]string, [][][]float64, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := chainSheets(f.GetSheetList())
	if len(sheets) == 0 {
		return nil, nil, core.NewValidationError("workbook", "no sheets to read")
	}

	var names []string
	chains := make([][][]float64, 0, len(sheets))
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			return nil, nil, core.NewValidationErrorf("workbook", "sheet %s is empty", sheet)
		}
		sheetNames, cols := parameterColumns(rows[0])
		if len(cols) == 0 {
			return nil, nil, core.NewValidationErrorf("workbook", "sheet %s has no parameter columns", sheet)
		}
		if names == nil {
			names = sheetNames
		} else if !sameNames(names, sheetNames) {
			return nil, nil, core.NewValidationErrorf("workbook", "sheet %s has columns %v, want %v", sheet, sheetNames, names)
		}

		chain := make([][]float64, 0, len(rows)-1)
		for i, row := range rows[1:] {
			if isBlank(row) {
				continue
			}
			draw := make([]float64, len(cols))
			for k, c := range cols {
				if c >= len(row) {
					return nil, nil, core.NewValidationErrorf("workbook", "sheet %s row %d is missing %s", sheet, i+2, names[k])
				}
				v, err := strconv.ParseFloat(strings.TrimSpace(row[c]), 64)
				if err != nil {
					return nil, nil, core.NewValidationErrorf("workbook", "sheet %s row %d column %s: %q is not a number", sheet, i+2, names[k], row[c])
				}
				draw[k] = v
			}
			chain = append(chain, draw)
		}
		chains = append(chains, chain)
	}
	return names, chains, nil
}

// chainSheets prefers "Chain <n>" sheets ordered by n, falling back to every sheet.
func chainSheets(all []string) []string {
	type indexed struct {
		name  string
		index int
	}
	var found []indexed
	for _, name := range all {
		if !strings.HasPrefix(name, chainSheetPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, chainSheetPrefix))
		if err != nil {
			continue
		}
		found = append(found, indexed{name, n})
	}
	if len(found) == 0 {
		return all
	}
	sort.Slice(found, func(a, b int) bool { return found[a].index < found[b].index })
	out := make([]string, len(found))
	for i, s := range found {
		out[i] = s.name
	}
	return out
}

// parameterColumns returns the parameter names and their column positions.
func parameterColumns(header []string) ([]string, []int) {
	skip := map[string]bool{"draw": true}
	for _, c := range stepColumns {
		skip[c] = true
	}
	var names []string
	var cols []int
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" || skip[h] {
			continue
		}
		names = append(names, h)
		cols = append(cols, i)
	}
	return names, cols
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
