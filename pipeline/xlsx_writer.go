package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/Techinsane-official/scrapper/models"
)

const (
	productsSheet = "Products"
	reviewSheet   = "Review Queue"
)

var reviewHeader = []string{
	"retailer", "external_id", "title", "matched_catalog_id", "similarity",
	"current_price", "reason", "source_url",
}

// ReviewWriter is implemented by outputs that also record candidates held
// for manual review.
type ReviewWriter interface {
	WriteReview(decisions []models.MergeDecision) error
}

// XLSXWriter builds a workbook with a products sheet and a review queue
// sheet. Rows are kept in memory and the file is written on Close.
type XLSXWriter struct {
	filename string
	file     *excelize.File
	rows     map[string]int
	mu       sync.Mutex
}

// NewXLSXWriter prepares both sheets with styled header rows.
func NewXLSXWriter(filename string) (*XLSXWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", productsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(reviewSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create review sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	xw := &XLSXWriter{filename: filename, file: f, rows: make(map[string]int)}
	for sheet, header := range map[string][]string{productsSheet: productHeader, reviewSheet: reviewHeader} {
		if err := xw.appendRow(sheet, toCells(header)); err != nil {
			f.Close()
			return nil, err
		}
		last, _ := excelize.ColumnNumberToName(len(header))
		if err := f.SetCellStyle(sheet, "A1", last+"1", headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("style header: %w", err)
		}
		if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
			f.Close()
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}
	return xw, nil
}

// Write appends products to the products sheet.
func (xw *XLSXWriter) Write(products []*models.Product) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	for _, p := range products {
		row := productRow(p)
		cells := toCells(row)
		// Numeric columns stay numeric in the workbook.
		for _, col := range []int{8, 9, 10, 11} {
			if row[col] != "" {
				cells[col] = numericCell(p, col)
			}
		}
		cells[15] = p.QualityScore
		if err := xw.appendRow(productsSheet, cells); err != nil {
			return err
		}
	}
	return nil
}

// WriteReview appends held candidates to the review sheet.
func (xw *XLSXWriter) WriteReview(decisions []models.MergeDecision) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	for _, d := range decisions {
		c := d.Candidate
		if c == nil {
			continue
		}
		var price any = ""
		if c.CurrentPrice != nil {
			price = *c.CurrentPrice
		}
		cells := []any{c.Retailer, c.ExternalID, c.Title, d.MatchedCatalogID, d.Similarity, price, d.Reason, c.SourceURL}
		if err := xw.appendRow(reviewSheet, cells); err != nil {
			return err
		}
	}
	return nil
}

// Close saves the workbook.
func (xw *XLSXWriter) Close() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	if err := xw.file.SaveAs(xw.filename); err != nil {
		xw.file.Close()
		return fmt.Errorf("save xlsx file: %w", err)
	}
	return xw.file.Close()
}

// Validate ensures both sheets exist and carry their headers.
func (xw *XLSXWriter) Validate() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	for _, sheet := range []string{productsSheet, reviewSheet} {
		if xw.rows[sheet] == 0 {
			return fmt.Errorf("xlsx sheet %q is empty", sheet)
		}
	}
	return nil
}

func (xw *XLSXWriter) appendRow(sheet string, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, xw.rows[sheet]+1)
	if err != nil {
		return fmt.Errorf("xlsx cell name: %w", err)
	}
	if err := xw.file.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write xlsx row: %w", err)
	}
	xw.rows[sheet]++
	return nil
}

func toCells(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func numericCell(p *models.Product, col int) any {
	switch col {
	case 8:
		return *p.CurrentPrice
	case 9:
		return *p.OriginalPrice
	case 10:
		pct, _ := p.DiscountPercent()
		return pct
	default:
		return *p.Rating
	}
}
