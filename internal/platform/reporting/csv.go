// Package reporting renders case exports: the CSV worklist, the per-case
// vetting decision PDF and zip batches of PDFs.
package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// CSVHeader is the fixed column order of the case export.
var CSVHeader = []string{
	"ID", "Status", "Created", "Patient First", "Patient Surname",
	"Referral ID", "Institution", "Study", "Radiologist", "TAT (mins)", "Vetted At",
}

// Row is one case in the CSV export.
type Row struct {
	ID             string
	Status         string
	Created        time.Time
	PatientFirst   string
	PatientSurname string
	ReferralID     string
	Institution    string
	Study          string
	Radiologist    string
	TATMinutes     int
	VettedAt       *time.Time
}

func (r Row) record() []string {
	vetted := ""
	if r.VettedAt != nil {
		vetted = r.VettedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		r.ID,
		r.Status,
		r.Created.UTC().Format(time.RFC3339),
		r.PatientFirst,
		r.PatientSurname,
		r.ReferralID,
		r.Institution,
		r.Study,
		r.Radiologist,
		strconv.Itoa(r.TATMinutes),
		vetted,
	}
}

// WriteCSV writes the header followed by one record per row.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVFilename names an export of tab generated at now.
func CSVFilename(tab string, now time.Time) string {
	if tab == "" {
		tab = "all"
	}
	return fmt.Sprintf("cases_%s_%s.csv", tab, now.UTC().Format("20060102_150405"))
}
