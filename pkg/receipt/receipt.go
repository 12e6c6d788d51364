package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// Line is a single settled tuition period on a receipt.
type Line struct {
	Period string
	Amount decimal.Decimal
}

// Receipt describes a verified payment request ready to be rendered.
type Receipt struct {
	SchoolName    string
	Number        string
	StudentName   string
	StudentNIS    string
	BankName      string
	AccountNumber string
	VerifiedAt    time.Time
	BaseAmount    decimal.Decimal
	UniqueCode    int
	TotalAmount   decimal.Decimal
	Lines         []Line
}

// Renderer turns receipts into A5 PDF documents.
type Renderer struct {
	location *time.Location
}

// NewRenderer constructs a receipt renderer. A nil location renders times in UTC.
func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{location: loc}
}

// Render produces the PDF bytes for r.
func (p *Renderer) Render(r Receipt) ([]byte, error) {
	if r.Number == "" {
		return nil, fmt.Errorf("receipt requires a number")
	}
	if len(r.Lines) == 0 {
		return nil, fmt.Errorf("receipt requires at least one line")
	}

	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetMargins(10, 12, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(0, 8, strings.ToUpper(r.SchoolName), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, "Tuition Payment Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 9)
	meta := [][2]string{
		{"Receipt No", r.Number},
		{"Student", fmt.Sprintf("%s (%s)", r.StudentName, r.StudentNIS)},
		{"Verified At", r.VerifiedAt.In(p.location).Format("02 Jan 2006 15:04")},
		{"Paid To", fmt.Sprintf("%s %s", r.BankName, r.AccountNumber)},
	}
	for _, row := range meta {
		pdf.CellFormat(30, 6, row[0], "", 0, "", false, 0, "")
		pdf.CellFormat(0, 6, ": "+row[1], "", 1, "", false, 0, "")
	}
	pdf.Ln(3)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(10, 7, "No", "1", 0, "C", false, 0, "")
	pdf.CellFormat(68, 7, "Period", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 7, "Amount", "1", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	for i, line := range r.Lines {
		pdf.CellFormat(10, 7, fmt.Sprintf("%d", i+1), "1", 0, "C", false, 0, "")
		pdf.CellFormat(68, 7, line.Period, "1", 0, "", false, 0, "")
		pdf.CellFormat(50, 7, FormatRupiah(line.Amount), "1", 1, "R", false, 0, "")
	}

	totals := [][2]string{
		{"Subtotal", FormatRupiah(r.BaseAmount)},
		{"Unique Code", fmt.Sprintf("%d", r.UniqueCode)},
		{"Total Transferred", FormatRupiah(r.TotalAmount)},
	}
	pdf.SetFont("Arial", "B", 9)
	for _, row := range totals {
		pdf.CellFormat(78, 7, row[0], "1", 0, "R", false, 0, "")
		pdf.CellFormat(50, 7, row[1], "1", 1, "R", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatRupiah renders an amount with dot thousand separators, e.g. "Rp 1.500.123".
func FormatRupiah(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}
	digits := amount.Round(0).StringFixed(0)

	var b strings.Builder
	for i, ch := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(ch)
	}
	return "Rp " + sign + b.String()
}
