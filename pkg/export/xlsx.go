package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/store"
)

const annotationSheet = "Annotations"

var annotationHeaders = []string{
	"Database", "Formula", "Adduct", "m/z", "MSM", "FDR",
	"Chaos", "Spatial", "Spectral", "Peaks", "Molecule names", "Molecule ids",
}

// AnnotationsXLSX renders the annotation rows of a dataset as a workbook.
func AnnotationsXLSX(ds *core.Dataset, rows []store.AnnotationRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if index, _ := f.GetSheetIndex(annotationSheet); index == -1 {
		if _, err := f.NewSheet(annotationSheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(annotationSheet)
	f.SetActiveSheet(activeIndex)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	write := func(col, row int, v interface{}) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(annotationSheet, cell, v)
	}

	write(1, 1, fmt.Sprintf("%s (%s)", ds.Name, ds.ID))
	for i, h := range annotationHeaders {
		write(i+1, 2, h)
	}
	for i, r := range rows {
		row := i + 3
		write(1, row, r.MolDBName)
		write(2, row, r.SF)
		write(3, row, r.Adduct)
		write(4, row, core.RoundFloat(r.MZ, 4))
		write(5, row, r.Metrics.MSM)
		write(6, row, r.FDR)
		write(7, row, r.Metrics.Chaos)
		write(8, row, r.Metrics.SpatialCorr)
		write(9, row, r.Metrics.SpectralMatch)
		write(10, row, r.PeakCount)
		write(11, row, strings.Join(r.Names, ", "))
		write(12, row, strings.Join(r.IDs, ", "))
	}

	_ = f.SetColWidth(annotationSheet, "A", "A", 16) // database
	_ = f.SetColWidth(annotationSheet, "B", "C", 14) // formula, adduct
	_ = f.SetColWidth(annotationSheet, "K", "L", 48) // molecules

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
