package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// exerciseStore runs the shared Store contract against a driver.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	info, err := s.Put(ctx, "orgs/o1/cases/20240101-AAAA/referral.pdf", bytes.NewReader([]byte("%PDF-1.4")), PutOptions{
		ContentType: "application/pdf",
		Metadata:    map[string]string{"case_id": "20240101-AAAA"},
	})
	assert.NilError(t, err)
	assert.Equal(t, info.Key, "orgs/o1/cases/20240101-AAAA/referral.pdf")
	assert.Equal(t, info.Size, int64(8))
	assert.Equal(t, info.ContentType, "application/pdf")

	got, rc, err := s.Get(ctx, "orgs/o1/cases/20240101-AAAA/referral.pdf")
	assert.NilError(t, err)
	data, err := io.ReadAll(rc)
	assert.NilError(t, err)
	assert.NilError(t, rc.Close())
	assert.Equal(t, string(data), "%PDF-1.4")
	assert.Equal(t, got.ContentType, "application/pdf")

	// Put replaces.
	_, err = s.Put(ctx, "orgs/o1/cases/20240101-AAAA/referral.pdf", bytes.NewReader([]byte("%PDF-1.7 v2")), PutOptions{ContentType: "application/pdf"})
	assert.NilError(t, err)
	head, err := s.Head(ctx, "orgs/o1/cases/20240101-AAAA/referral.pdf")
	assert.NilError(t, err)
	assert.Equal(t, head.Size, int64(11))

	_, err = s.Put(ctx, "orgs/o2/cases/20240101-BBBB/scan.png", bytes.NewReader([]byte("png")), PutOptions{ContentType: "image/png"})
	assert.NilError(t, err)

	list, err := s.List(ctx, "orgs/o1/")
	assert.NilError(t, err)
	assert.Assert(t, is.Len(list, 1))
	assert.Equal(t, list[0].Key, "orgs/o1/cases/20240101-AAAA/referral.pdf")

	assert.NilError(t, s.Delete(ctx, "orgs/o1/cases/20240101-AAAA/referral.pdf"))
	_, err = s.Head(ctx, "orgs/o1/cases/20240101-AAAA/referral.pdf")
	assert.Assert(t, errors.Is(err, ErrBlobNotFound))
	_, _, err = s.Get(ctx, "orgs/o1/cases/20240101-AAAA/referral.pdf")
	assert.Assert(t, errors.Is(err, ErrBlobNotFound))
	assert.Assert(t, errors.Is(s.Delete(ctx, "orgs/o1/missing"), ErrBlobNotFound))

	_, err = s.Put(ctx, "../escape", bytes.NewReader(nil), PutOptions{})
	assert.Assert(t, errors.Is(err, ErrInvalidKey))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	assert.Equal(t, s.Driver(), DriverMemory)
	exerciseStore(t, s)
}

func TestFSStore(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	assert.NilError(t, err)
	assert.Equal(t, s.Driver(), DriverFilesystem)
	exerciseStore(t, s)
}

func TestFSStore_RejectsMetaSuffix(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	assert.NilError(t, err)
	_, err = s.Put(context.Background(), "a/b.meta", bytes.NewReader(nil), PutOptions{})
	assert.Assert(t, errors.Is(err, ErrInvalidKey))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: "memory"})
	assert.NilError(t, err)
	assert.Equal(t, s.Driver(), DriverMemory)

	s, err = Open(ctx, Config{Driver: "FS", FSRoot: t.TempDir()})
	assert.NilError(t, err)
	assert.Equal(t, s.Driver(), DriverFilesystem)

	_, err = Open(ctx, Config{Driver: "s3"})
	assert.ErrorContains(t, err, "bucket required")

	_, err = Open(ctx, Config{Driver: "ftp"})
	assert.ErrorContains(t, err, "unknown blob driver")
}

func TestValidateUpload(t *testing.T) {
	assert.NilError(t, ValidateUpload("referral.pdf", "application/pdf", 1024))
	assert.NilError(t, ValidateUpload("note.txt", "text/plain; charset=utf-8", 10))
	assert.Assert(t, errors.Is(ValidateUpload(" ", "application/pdf", 1), ErrMissingFileName))
	assert.Assert(t, errors.Is(ValidateUpload("x.pdf", "application/pdf", MaxFileSize+1), ErrFileTooLarge))
	assert.Assert(t, errors.Is(ValidateUpload("x.exe", "application/x-msdownload", 1), ErrInvalidContentType))
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"referral.pdf":          "referral.pdf",
		"../../etc/passwd":      "passwd",
		`C:\scans\ct head.png`: "ct_head.png",
		"...":                   "file",
		"":                      "file",
		"résumé.pdf":            "rsum.pdf",
	}
	for in, want := range tests {
		assert.Equal(t, SafeName(in), want, "input %q", in)
	}
}
