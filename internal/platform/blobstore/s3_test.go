package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gotest.tools/v3/assert"
)

// fakeS3 serves the subset of the S3 REST API the store uses.
type fakeS3 struct {
	mu    sync.Mutex
	state map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
}

func respond(status int, body string, hdr http.Header) *http.Response {
	if hdr == nil {
		hdr = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: hdr}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.state {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.state[k].body))
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, b.String(), http.Header{"Content-Type": {"application/xml"}}), nil
	}

	objectHeaders := func(o fakeObject) http.Header {
		return http.Header{
			"Content-Length": {fmt.Sprintf("%d", len(o.body))},
			"Content-Type":   {o.contentType},
			"Etag":           {`"etag"`},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}
	}

	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeAWSChunked(body); ok {
			body = dec
		}
		f.state[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return respond(http.StatusOK, "", http.Header{"Etag": {`"etag"`}}), nil
	case http.MethodHead:
		if o, ok := f.state[key]; ok {
			return respond(http.StatusOK, "", objectHeaders(o)), nil
		}
		return respond(http.StatusNotFound, "", nil), nil
	case http.MethodGet:
		if o, ok := f.state[key]; ok {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(o.body)), Header: objectHeaders(o)}, nil
		}
		return respond(http.StatusNotFound, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`,
			http.Header{"Content-Type": {"application/xml"}}), nil
	case http.MethodDelete:
		delete(f.state, key)
		return respond(http.StatusNoContent, "", nil), nil
	}
	return respond(http.StatusNotImplemented, "", nil), nil
}

// decodeAWSChunked unwraps a single-chunk aws-chunked body:
// <hex>\r\n<body>\r\n0\r\n[trailers]
func decodeAWSChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 || parts[2] != "0" {
		return nil, false
	}
	var n int
	if _, err := fmt.Sscanf(parts[0], "%x", &n); err != nil || n != len(parts[1]) {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newFakeS3Store(t *testing.T) *S3Store {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	assert.NilError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.HTTPClient = &http.Client{Transport: &fakeS3{state: make(map[string]fakeObject)}}
		o.UsePathStyle = true
	})
	return newS3StoreWithClient(client, "vetting-test")
}

func TestS3Store(t *testing.T) {
	s := newFakeS3Store(t)
	assert.Equal(t, s.Driver(), DriverS3)
	exerciseStore(t, s)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	assert.ErrorContains(t, err, "bucket required")
}

func TestNewS3Store_WithEndpoint(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")
	s, err := NewS3Store(context.Background(), S3Config{Bucket: "bkt", Endpoint: "http://localhost:9000", PathStyle: true})
	assert.NilError(t, err)
	assert.Equal(t, s.bucket, "bkt")
}

func TestDecodeAWSChunked(t *testing.T) {
	dec, ok := decodeAWSChunked([]byte("3\r\nabc\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"))
	assert.Assert(t, ok)
	assert.Equal(t, string(dec), "abc")
	_, ok = decodeAWSChunked([]byte("5\r\nabc\r\n0\r\n"))
	assert.Assert(t, !ok)
}
