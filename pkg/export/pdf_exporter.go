package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// BulletinLine is one subject row of a bulletin.
type BulletinLine struct {
	Subject     string
	Coefficient int
	Average     float64
	GradeCount  int
}

// Bulletin carries everything printed on a period report card.
type Bulletin struct {
	SchoolName   string
	StudentName  string
	RollNumber   string
	ClassLabel   string
	PeriodLabel  string
	SchoolYear   string
	Lines        []BulletinLine
	Overall      float64
	Rank         int
	ClassSize    int
	Mention      string
	Appreciation string
	IssuedAt     time.Time
}

// PDFExporter renders bulletins and tabular datasets with gofpdf.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := newDocument()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(title)), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	pdf.SetFont("Arial", "B", 10)
	colWidth := 190.0 / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, tr(row[header]), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// RenderBulletin lays out a single report card: identity block, subject table, summary and remark.
func (e *PDFExporter) RenderBulletin(b Bulletin) ([]byte, error) {
	if b.StudentName == "" {
		return nil, fmt.Errorf("bulletin requires a student name")
	}
	pdf := newDocument()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 15)
	pdf.CellFormat(0, 9, tr(b.SchoolName), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("REPORT CARD - %s - %s", b.PeriodLabel, b.SchoolYear)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 10)
	identity := [][2]string{
		{"Student", b.StudentName},
		{"Roll number", b.RollNumber},
		{"Class", b.ClassLabel},
	}
	for _, kv := range identity {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(35, 6, tr(kv[0]+":"), "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, tr(kv[1]), "", 1, "", false, 0, "")
	}
	pdf.Ln(4)

	widths := []float64{80, 25, 25, 30, 30}
	headers := []string{"Subject", "Grades", "Coef.", "Average", "Weighted"}
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	totalCoef := 0
	for _, line := range b.Lines {
		totalCoef += line.Coefficient
		pdf.CellFormat(widths[0], 7, tr(line.Subject), "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[1], 7, fmt.Sprintf("%d", line.GradeCount), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 7, fmt.Sprintf("%d", line.Coefficient), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[3], 7, fmt.Sprintf("%.2f", line.Average), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[4], 7, fmt.Sprintf("%.2f", line.Average*float64(line.Coefficient)), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(widths[0]+widths[1], 8, "Total", "1", 0, "R", true, 0, "")
	pdf.CellFormat(widths[2], 8, fmt.Sprintf("%d", totalCoef), "1", 0, "C", true, 0, "")
	pdf.CellFormat(widths[3]+widths[4], 8, fmt.Sprintf("%.2f / 20", b.Overall), "1", 1, "C", true, 0, "")
	pdf.Ln(6)

	summary := [][2]string{
		{"Overall average", fmt.Sprintf("%.2f / 20", b.Overall)},
		{"Rank", fmt.Sprintf("%d / %d", b.Rank, b.ClassSize)},
		{"Mention", b.Mention},
	}
	for _, kv := range summary {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(45, 7, tr(kv[0]+":"), "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 7, tr(kv[1]), "", 1, "", false, 0, "")
	}
	pdf.Ln(3)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 7, "Appreciation:", "", 1, "", false, 0, "")
	pdf.SetFont("Arial", "I", 11)
	pdf.MultiCell(0, 6, tr(b.Appreciation), "1", "", false)
	pdf.Ln(8)

	issued := b.IssuedAt
	if issued.IsZero() {
		issued = time.Now().UTC()
	}
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, "Issued on "+issued.Format("2006-01-02"), "", 1, "R", false, 0, "")

	return output(pdf)
}

func newDocument() *gofpdf.Fpdf {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()
	return pdf
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
