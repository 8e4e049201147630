package timeline

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/medsim/scenario/internal/domain/vitals"
)

const (
	SheetTimeline   = "Timeline"
	SheetParameters = "Parameters"
)

const (
	colID           = "ID"
	colAction       = "Action"
	colOnSuccess    = "OnSuccess"
	colOnFailure    = "OnFailure"
	colDetails      = "Details"
	colParentRole   = "ParentRole"
	colTimerSeconds = "TimerSeconds"

	colNodeID = "NodeID"
	colName   = "Name"
	colValue  = "Value"
	colUnit   = "Unit"
)

// TimelineHeader is the header row of the Timeline sheet. Vital columns use
// the canonical labels.
var TimelineHeader = func() []string {
	h := []string{colID}
	for _, c := range vitals.Columns {
		h = append(h, c.Label())
	}
	return append(h, colAction, colOnSuccess, colOnFailure, colDetails, colParentRole, colTimerSeconds)
}()

var ParametersHeader = []string{colNodeID, colName, colValue, colUnit}

// Workbook is the spreadsheet form of a timeline. Parameters of node 0 that
// have no matching Timeline row belong to the baseline.
type Workbook struct {
	Nodes              []Node
	BaselineParameters []Parameter
}

// WriteWorkbook renders nodes and their additional parameters as XLSX.
func WriteWorkbook(w io.Writer, nodes []Node, params []Parameter) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetTimeline); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetParameters); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	rows := make([][]interface{}, 0, len(nodes))
	for _, n := range nodes {
		row := []interface{}{n.ID}
		for _, c := range vitals.Columns {
			row = append(row, cellValue(n.Vitals.Get(c)))
		}
		role := ""
		if n.ParentRole != nil {
			role = *n.ParentRole
		}
		row = append(row, n.Action, n.OnSuccess, n.OnFailure, n.AdditionalDetails, role, n.TimerSeconds)
		rows = append(rows, row)
	}
	if err := writeSheet(f, SheetTimeline, TimelineHeader, rows, headerStyle); err != nil {
		return err
	}

	rows = rows[:0]
	for _, p := range params {
		rows = append(rows, []interface{}{p.NodeID, p.Name, p.Value, p.Unit})
	}
	if err := writeSheet(f, SheetParameters, ParametersHeader, rows, headerStyle); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cellValue(v interface{}) interface{} {
	if v == nil {
		return ""
	}
	return v
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]interface{}, headerStyle int) error {
	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

// ReadWorkbook parses an XLSX file produced by WriteWorkbook or edited by
// hand. Columns are matched by header name, case-insensitively, and vital
// headers also accept column names and common aliases. Cell errors are collected
// into a ValidationError keyed by sheet and cell.
func ReadWorkbook(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, newValidationError("workbook", "not a readable XLSX file")
	}
	defer f.Close()

	ve := &ValidationError{}
	nodes, index := readTimelineSheet(f, ve)
	wb := &Workbook{Nodes: nodes}
	for _, sp := range readParametersSheet(f, ve) {
		p := sp.Parameter
		if i, ok := index[p.NodeID]; ok {
			wb.Nodes[i].Parameters = append(wb.Nodes[i].Parameters, p)
			continue
		}
		if p.NodeID == BaselineNodeID {
			wb.BaselineParameters = append(wb.BaselineParameters, p)
			continue
		}
		ve.add(sp.nodeCell, fmt.Sprintf("node %d has no %s row", p.NodeID, SheetTimeline))
	}
	if !ve.empty() {
		return nil, ve
	}
	return wb, nil
}

// sheetRows returns the data rows of sheet and a header-name to column
// index map.
func sheetRows(f *excelize.File, sheet string, ve *ValidationError) ([][]string, map[string]int) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		ve.add(sheet, "sheet is missing")
		return nil, nil
	}
	if len(rows) == 0 {
		return nil, map[string]int{}
	}
	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return rows[1:], cols
}

type rowReader struct {
	sheet string
	row   []string
	num   int
	cols  map[string]int
	ve    *ValidationError
}

func (rr rowReader) cellName(idx int) string {
	name, _ := excelize.CoordinatesToCellName(idx+1, rr.num)
	return rr.sheet + "!" + name
}

func (rr rowReader) raw(header string) (string, int, bool) {
	idx, ok := rr.cols[strings.ToLower(header)]
	if !ok || idx >= len(rr.row) {
		return "", idx, false
	}
	return strings.TrimSpace(rr.row[idx]), idx, true
}

func (rr rowReader) str(header string) string {
	s, _, _ := rr.raw(header)
	return s
}

func (rr rowReader) integer(header string) int {
	s, idx, ok := rr.raw(header)
	if !ok || s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		rr.ve.add(rr.cellName(idx), "must be an integer")
	}
	return n
}

func (rr rowReader) blank() bool {
	for _, c := range rr.row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readTimelineSheet(f *excelize.File, ve *ValidationError) ([]Node, map[int]int) {
	rows, cols := sheetRows(f, SheetTimeline, ve)
	vitalIdx := make(map[vitals.Column]int)
	for h, i := range cols {
		if c, ok := vitals.LookupHeader(h); ok {
			vitalIdx[c] = i
		}
	}

	var nodes []Node
	index := make(map[int]int)
	for i, row := range rows {
		rr := rowReader{sheet: SheetTimeline, row: row, num: i + 2, cols: cols, ve: ve}
		if rr.blank() {
			continue
		}
		n := Node{
			ID:                rr.integer(colID),
			Action:            rr.str(colAction),
			OnSuccess:         rr.integer(colOnSuccess),
			OnFailure:         rr.integer(colOnFailure),
			AdditionalDetails: rr.str(colDetails),
			TimerSeconds:      rr.integer(colTimerSeconds),
		}
		if role := rr.str(colParentRole); role != "" {
			n.ParentRole = &role
		}
		for c, idx := range vitalIdx {
			if idx >= len(row) {
				continue
			}
			v, err := vitals.ParseValue(c, row[idx])
			if err != nil {
				ve.add(rr.cellName(idx), err.Error())
				continue
			}
			n.Vitals.Set(c, v)
		}
		if _, dup := index[n.ID]; dup {
			ve.add(rr.cellName(cols[strings.ToLower(colID)]), fmt.Sprintf("duplicate node id %d", n.ID))
			continue
		}
		index[n.ID] = len(nodes)
		nodes = append(nodes, n)
	}
	return nodes, index
}

// sheetParameter is a parsed Parameters row with the address of its node cell.
type sheetParameter struct {
	Parameter
	nodeCell string
}

func readParametersSheet(f *excelize.File, ve *ValidationError) []sheetParameter {
	if idx, _ := f.GetSheetIndex(SheetParameters); idx < 0 {
		return nil
	}
	rows, cols := sheetRows(f, SheetParameters, ve)

	var params []sheetParameter
	for i, row := range rows {
		rr := rowReader{sheet: SheetParameters, row: row, num: i + 2, cols: cols, ve: ve}
		if rr.blank() {
			continue
		}
		p := Parameter{
			NodeID: rr.integer(colNodeID),
			Name:   rr.str(colName),
			Unit:   rr.str(colUnit),
		}
		if p.Name == "" {
			_, idx, _ := rr.raw(colName)
			ve.add(rr.cellName(idx), "cannot be blank")
			continue
		}
		raw, idx, _ := rr.raw(colValue)
		v, err := vitals.ParseNumber(raw)
		if err != nil {
			ve.add(rr.cellName(idx), err.Error())
			continue
		}
		p.Value = v
		params = append(params, sheetParameter{Parameter: p, nodeCell: rr.cellName(cols[strings.ToLower(colNodeID)])})
	}
	return params
}
