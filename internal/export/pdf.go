package export

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/m-mizutani/goerr/v2"
)

// ─── LAYOUT ───────────────────────────────────────────────────────────────────

const (
	marginLeft  = 15.0
	marginRight = 15.0
	marginTop   = 15.0
	lineHeight  = 5.0
	footerText  = "Automated Risk Assessment"
)

type column struct {
	title string
	width float64
	align string
}

// Widths sum to the A4 content width (210 - 30).
var tableColumns = []column{
	{"#", 8, "C"},
	{"Risk", 52, "L"},
	{"Category", 24, "L"},
	{"Impact", 14, "C"},
	{"Likelihood", 18, "C"},
	{"Score", 14, "C"},
	{"Mitigation", 50, "L"},
}

// RenderPDF writes r as an A4 PDF to w.
func RenderPDF(w io.Writer, r Report) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginLeft, marginTop, marginRight)
	pdf.SetAutoPageBreak(true, 18)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of {nb} | %s", pdf.PageNo(), footerText), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	header(pdf, tr, r)
	projectDetails(pdf, tr, r)
	summary(pdf, tr, r)
	riskTable(pdf, tr, r)
	statistics(pdf, tr, r)
	overall(pdf, tr, r)

	if err := pdf.Error(); err != nil {
		return goerr.Wrap(err, "render pdf", goerr.V("report_id", r.ID))
	}
	if err := pdf.Output(w); err != nil {
		return goerr.Wrap(err, "write pdf", goerr.V("report_id", r.ID))
	}
	return nil
}

// RenderPDFBytes is RenderPDF into memory.
func RenderPDFBytes(r Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderPDF(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ─── SECTIONS ─────────────────────────────────────────────────────────────────

func header(pdf *fpdf.Fpdf, tr func(string) string, r Report) {
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 8, "Risk Assessment Report", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, lineHeight, tr("Date: "+r.GeneratedAt.Format("2 January 2006")), "", 1, "R", false, 0, "")
	pdf.CellFormat(0, lineHeight, tr("RA Number: "+r.RANumber), "", 1, "R", false, 0, "")

	pdf.SetDrawColor(200, 200, 200)
	y := pdf.GetY() + 2
	w, _ := pdf.GetPageSize()
	pdf.Line(marginLeft, y, w-marginRight, y)
	pdf.SetY(y + 5)
}

func sectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func projectDetails(pdf *fpdf.Fpdf, tr func(string) string, r Report) {
	sectionTitle(pdf, "Project Details")

	date := r.Event.Date
	if t, err := time.Parse(time.DateOnly, date); err == nil {
		date = t.Format("2 January 2006")
	}
	riskLevel := r.Event.RiskLevel
	if riskLevel == "" {
		riskLevel = "Not assessed"
	}
	lines := []string{
		"Event Title: " + orNA(r.Event.Title),
		"Event Date: " + orNA(date),
		"Location: " + orNA(r.Event.Location),
		"Attendance: " + groupThousands(r.Event.Attendance) + " people",
		"Event Type: " + orNA(string(r.Event.Category)),
		"Venue Type: " + orNA(r.Event.VenueSubtype),
		"Risk Level: " + riskLevel,
	}
	for _, l := range lines {
		pdf.CellFormat(0, lineHeight, tr(l), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func summary(pdf *fpdf.Fpdf, tr func(string) string, r Report) {
	sectionTitle(pdf, "Contextual Summary")
	for _, p := range r.Summary {
		pdf.MultiCell(0, lineHeight, tr(p), "", "L", false)
		pdf.Ln(2)
	}

	pdf.Ln(2)
	indexBlock(pdf, tr, "Context Index", r.Context.Score, r.Context.Level, r.Context.Details)
}

func indexBlock(pdf *fpdf.Fpdf, tr func(string) string, label string, score int, level string, details []string) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s: %d/7 (%s)", label, score, level)), "", 1, "L", false, 0, "")
	bullets(pdf, tr, details)
}

func bullets(pdf *fpdf.Fpdf, tr func(string) string, details []string) {
	pdf.SetFont("Helvetica", "", 10)
	for _, d := range details {
		pdf.MultiCell(0, lineHeight, tr("• "+d), "", "L", false)
	}
	pdf.Ln(3)
}

func riskTable(pdf *fpdf.Fpdf, tr func(string) string, r Report) {
	sectionTitle(pdf, "Detailed Risk Table")

	tableHeader := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, c := range tableColumns {
			pdf.CellFormat(c.width, 7, c.title, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 9)
	}
	tableHeader()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range r.Rows {
		cells := []string{
			strconv.Itoa(row.Number),
			row.Description,
			string(row.Category),
			strconv.Itoa(row.Impact),
			strconv.Itoa(row.Likelihood),
			strconv.Itoa(row.Score),
			row.Mitigation,
		}

		// Height is set by the tallest wrapped cell.
		lines := 1
		for i, c := range tableColumns {
			lines = max(lines, len(pdf.SplitLines([]byte(tr(cells[i])), c.width-2)))
		}
		h := float64(lines) * 4.5

		if pdf.GetY()+h > pageHeight-bottom-18 {
			pdf.AddPage()
			tableHeader()
		}

		x, y := pdf.GetXY()
		for i, c := range tableColumns {
			pdf.Rect(x, y, c.width, h, "D")
			pdf.SetXY(x+1, y+0.5)
			pdf.MultiCell(c.width-2, 4.5, tr(cells[i]), "", c.align, false)
			x += c.width
		}
		pdf.SetXY(marginLeft, y+h)
	}
	pdf.Ln(6)
}

func statistics(pdf *fpdf.Fpdf, tr func(string) string, r Report) {
	sectionTitle(pdf, "Risk Statistics")
	st := r.Stats
	lines := []string{
		fmt.Sprintf("Total Risks Identified: %d", st.Total),
		"Average Risk Score: " + strconv.FormatFloat(st.Average, 'f', -1, 64),
		fmt.Sprintf("High Risk (>=%d): %d", highScore, st.High),
		fmt.Sprintf("Medium Risk (%d-%d): %d", mediumScore, highScore-1, st.Medium),
		fmt.Sprintf("Low Risk (<%d): %d", mediumScore, st.Low),
	}
	for _, l := range lines {
		pdf.CellFormat(0, lineHeight, tr(l), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func overall(pdf *fpdf.Fpdf, tr func(string) string, r Report) {
	sectionTitle(pdf, "Overall Assessment")
	indexBlock(pdf, tr, "Risk Index", r.Risk.Score, r.Risk.Level, r.Risk.Details)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, tr("Compliance Status: "+string(r.Compliance.Status)), "", 1, "L", false, 0, "")
	bullets(pdf, tr, r.Compliance.Details)
}

// groupThousands formats n as 12,000.
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		return "-" + groupThousands(-n)
	}
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}
