package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetch_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data.bin" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	f := New(fs, WithLogger(zerolog.Nop()))

	if err := f.Fetch(context.Background(), srv.URL+"/data.bin", "/cache/data.bin"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	got, err := afero.ReadFile(fs, "/cache/data.bin")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Errorf("content = %q, want payload", got)
	}
}

func TestFetch_HTTPErrorLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	f := New(fs, WithLogger(zerolog.Nop()))

	if err := f.Fetch(context.Background(), srv.URL+"/x", "/cache/x"); err == nil {
		t.Fatal("expected error for HTTP 410")
	}
	if ok, _ := afero.Exists(fs, "/cache/x"); ok {
		t.Error("destination should not exist after failed download")
	}
}

func TestFetch_UnsupportedScheme(t *testing.T) {
	f := New(afero.NewMemMapFs(), WithLogger(zerolog.Nop()))
	err := f.Fetch(context.Background(), "ftp://example.com/file", "/x")
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestEnsure_SkipsExisting(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("new"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/cache/x", []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	f := New(fs, WithLogger(zerolog.Nop()))

	if err := f.Ensure(context.Background(), srv.URL, "/cache/x"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("server called %d times, want 0", calls)
	}
}

type fakeS3 struct {
	bucket, key string
	body        string
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.bucket = aws.StringValue(in.Bucket)
	f.key = aws.StringValue(in.Key)
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestFetch_S3(t *testing.T) {
	client := &fakeS3{body: "from s3"}
	fs := afero.NewMemMapFs()
	f := New(fs, WithS3Client(client), WithLogger(zerolog.Nop()))

	if err := f.Fetch(context.Background(), "s3://corpora/imdb/aclImdb_v1.tar.gz", "/d/a.tar.gz"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if client.bucket != "corpora" || client.key != "imdb/aclImdb_v1.tar.gz" {
		t.Errorf("requested s3://%s/%s", client.bucket, client.key)
	}
	got, _ := afero.ReadFile(fs, "/d/a.tar.gz")
	if string(got) != "from s3" {
		t.Errorf("content = %q", got)
	}
}

func TestExtractTarGz(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := tarGz(t, map[string]string{
		"aclImdb/train/pos/0_9.txt": "great",
		"aclImdb/test/neg/1_1.txt":  "awful",
	})
	if err := afero.WriteFile(fs, "/a.tar.gz", data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := ExtractTarGz(fs, "/a.tar.gz", "/out"); err != nil {
		t.Fatalf("ExtractTarGz() error = %v", err)
	}

	got, err := afero.ReadFile(fs, "/out/aclImdb/train/pos/0_9.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "great" {
		t.Errorf("content = %q, want great", got)
	}
}

func TestExtractTarGz_RejectsTraversal(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := tarGz(t, map[string]string{"../evil.txt": "x"})
	if err := afero.WriteFile(fs, "/a.tar.gz", data, 0644); err != nil {
		t.Fatal(err)
	}

	err := ExtractTarGz(fs, "/a.tar.gz", "/out")
	if !errors.Is(err, ErrUnsafePath) {
		t.Errorf("expected ErrUnsafePath, got %v", err)
	}
}

func TestExtractZipMember(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"glove.6B.50d.txt":  "the 0.1",
		"glove.6B.100d.txt": "the 0.2",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/g.zip", buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	if err := ExtractZipMember(fs, "/g.zip", "glove.6B.100d.txt", "/v/glove.6B.100d.txt"); err != nil {
		t.Fatalf("ExtractZipMember() error = %v", err)
	}
	got, _ := afero.ReadFile(fs, "/v/glove.6B.100d.txt")
	if string(got) != "the 0.2" {
		t.Errorf("content = %q", got)
	}

	if err := ExtractZipMember(fs, "/g.zip", "missing.txt", "/v/m.txt"); err == nil {
		t.Error("expected error for missing member")
	}
}
