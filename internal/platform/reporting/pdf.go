package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

// ProfilePlaceholder stands in for radiologist details that could not be
// loaded.
const ProfilePlaceholder = "[profile unavailable]"

const reportTimeLayout = "02-01-2006 15:04"

// CaseReport is everything printed on a vetting decision report. Credential
// is the radiologist's GMC/GNC registration number.
type CaseReport struct {
	OrganisationName string
	CaseID           string
	Created          time.Time
	PatientFirst     string
	PatientSurname   string
	ReferralID       string
	Institution      string
	Radiologist      string
	Credential       string
	ProfileAvailable bool
	StudyDescription string
	Decision         string
	Protocol         string
	Comment          string
	VettedAt         *time.Time
}

// PatientName joins the patient's names, or "N/A" when both are empty.
func (r *CaseReport) PatientName() string {
	name := strings.TrimSpace(r.PatientFirst + " " + r.PatientSurname)
	if name == "" {
		return "N/A"
	}
	return name
}

// PDFFilename names the rendered report for caseID.
func PDFFilename(caseID string) string {
	return caseID + "_vetting.pdf"
}

// RenderCasePDF writes the vetting decision report for r to w.
func RenderCasePDF(w io.Writer, r *CaseReport) error {
	return renderCasePDF(w, r, true)
}

func renderCasePDF(w io.Writer, r *CaseReport, compress bool) error {
	if r == nil {
		return fmt.Errorf("render pdf: nil report")
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(compress)
	pdf.SetTitle("Vetting Decision Report "+r.CaseID, false)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if r.OrganisationName != "" {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, tr(r.OrganisationName), "", 1, "L", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, "Vetting Decision Report", "", 1, "L", false, 0, "")
	pdf.Ln(4)

	line := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(45, 6, label+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 6, tr(value), "", "L", false)
	}
	section := func(title string) {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 7, title, "", 1, "L", false, 0, "")
	}

	section("Case Details")
	line("Case ID", r.CaseID)
	line("Created", r.Created.UTC().Format(reportTimeLayout))
	line("Patient Name", r.PatientName())
	if r.ReferralID != "" {
		line("Referral ID", r.ReferralID)
	}
	line("Institution", orNA(r.Institution))

	switch {
	case r.ProfileAvailable:
		line("Radiologist", orNA(r.Radiologist))
		if r.Credential != "" {
			line("GMC/GNC Number", r.Credential)
		}
	case r.Radiologist != "":
		line("Radiologist", r.Radiologist)
		line("GMC/GNC Number", ProfilePlaceholder)
	default:
		line("Radiologist", ProfilePlaceholder)
		line("GMC/GNC Number", ProfilePlaceholder)
	}
	if r.StudyDescription != "" {
		line("Study Description", r.StudyDescription)
	}

	section("Vetting Decision")
	line("Decision", orNA(r.Decision))
	if r.Decision != "Reject" && r.Protocol != "" {
		line("Protocol", r.Protocol)
	}
	if comment := strings.TrimSpace(r.Comment); comment != "" {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, 6, "Comment:", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		for _, l := range strings.Split(comment, "\n") {
			pdf.SetX(pdf.GetX() + 8)
			pdf.MultiCell(0, 5, tr(strings.TrimRight(l, "\r")), "", "L", false)
		}
	}
	if r.VettedAt != nil {
		line("Vetted at", r.VettedAt.UTC().Format(reportTimeLayout))
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf %s: %w", r.CaseID, err)
	}
	return nil
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
