package reporting

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ZipResult summarises a batch export.
type ZipResult struct {
	Rendered int
	Failed   []string
}

// WriteZip writes one PDF per report into a zip archive on w. A report that
// fails to render is left out and listed in errors.txt; the rest of the batch
// is still written.
func WriteZip(w io.Writer, reports []*CaseReport) (ZipResult, error) {
	var res ZipResult
	zw := zip.NewWriter(w)
	var failures []string

	for _, r := range reports {
		if r == nil {
			continue
		}
		var buf bytes.Buffer
		if err := RenderCasePDF(&buf, r); err != nil {
			res.Failed = append(res.Failed, r.CaseID)
			failures = append(failures, fmt.Sprintf("%s: %v", r.CaseID, err))
			continue
		}
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     PDFFilename(r.CaseID),
			Method:   zip.Deflate,
			Modified: r.Created.UTC(),
		})
		if err != nil {
			return res, fmt.Errorf("create zip entry %s: %w", r.CaseID, err)
		}
		if _, err := f.Write(buf.Bytes()); err != nil {
			return res, fmt.Errorf("write zip entry %s: %w", r.CaseID, err)
		}
		res.Rendered++
	}

	if len(failures) > 0 {
		f, err := zw.Create("errors.txt")
		if err != nil {
			return res, fmt.Errorf("create zip error list: %w", err)
		}
		if _, err := io.WriteString(f, strings.Join(failures, "\n")+"\n"); err != nil {
			return res, fmt.Errorf("write zip error list: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return res, fmt.Errorf("close zip: %w", err)
	}
	return res, nil
}

// ZipFilename names a batch export of tab generated at now.
func ZipFilename(tab string, now time.Time) string {
	return strings.TrimSuffix(CSVFilename(tab, now), ".csv") + ".zip"
}

// ArchiveKey is the blob key an archived report is stored under.
func ArchiveKey(orgID uuid.UUID, caseID string, at time.Time) string {
	return fmt.Sprintf("orgs/%s/reports/%s-%s.pdf", orgID, caseID, at.UTC().Format("20060102T150405Z"))
}
