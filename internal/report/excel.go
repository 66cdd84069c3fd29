package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportClassResultsExcel renders the class result sheet: one row per
// student, one column per subject showing the final percentage and
// letter grade.
func (s *Service) ExportClassResultsExcel(ctx context.Context, schoolID, classID, termID int64) ([]byte, error) {
	results, err := s.results.ClassResults(ctx, schoolID, classID, termID)
	if err != nil {
		return nil, err
	}

	subjectSet := map[string]bool{}
	for _, r := range results {
		for _, sub := range r.Subjects {
			subjectSet[sub.SubjectName] = true
		}
	}
	subjects := make([]string, 0, len(subjectSet))
	for name := range subjectSet {
		subjects = append(subjects, name)
	}
	sort.Strings(subjects)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"admission_number", "student"}
	headers = append(headers, subjects...)
	headers = append(headers, "overall_average", "overall_grade", "remark")
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, r := range results {
		row := i + 2
		bySubject := map[string]string{}
		for _, sub := range r.Subjects {
			bySubject[sub.SubjectName] = fmt.Sprintf("%.1f (%s)", sub.FinalPercentage, sub.Grade)
		}
		values := []any{r.AdmissionNumber, r.StudentName}
		for _, name := range subjects {
			values = append(values, bySubject[name])
		}
		values = append(values, r.OverallAverage, r.OverallGrade, r.OverallRemark)
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(sheet, "A", last, 18)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportFeeCollectionExcel renders the per-grade fee collection summary.
func (s *Service) ExportFeeCollectionExcel(ctx context.Context, schoolID, termID int64) ([]byte, error) {
	rep, err := s.FeeCollection(ctx, schoolID, termID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"grade", "invoices", "invoiced", "collected", "outstanding", "rate_percent"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, gc := range rep.ByGrade {
		row := i + 2
		values := []any{gc.Grade, gc.Invoices, gc.Invoiced, gc.Collected, gc.Outstanding, gc.Rate}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	totalRow := len(rep.ByGrade) + 2
	totals := []any{"TOTAL", "", rep.Invoiced, rep.Collected, rep.Outstanding, rep.Rate}
	for col, v := range totals {
		cell, _ := excelize.CoordinatesToCellName(col+1, totalRow)
		_ = f.SetCellValue(sheet, cell, v)
	}
	_ = f.SetColWidth(sheet, "A", "F", 18)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func excelFilename(prefix string) string {
	return fmt.Sprintf("%s-%s.xlsx", prefix, time.Now().Format("20060102-150405"))
}
