package corpus

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"imdbprep/internal/pkg/imdbprep/fetch"
)

func writeTree(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := afero.WriteFile(fs, name, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoad_OrderAndFirstLine(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"/d/imdb/aclImdb/train/pos/1_9.txt":  "loved it\nsecond line",
		"/d/imdb/aclImdb/train/pos/0_10.txt": "great",
		"/d/imdb/aclImdb/train/neg/0_2.txt":  "awful\r\n",
		"/d/imdb/aclImdb/train/neg/notes.md": "ignored",
		"/d/imdb/aclImdb/test/pos/0_8.txt":   "fine",
	})

	got, err := Load(fs, "/d", Train)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []Example{
		{Text: "great", Label: "pos"},
		{Text: "loved it", Label: "pos"},
		{Text: "awful", Label: "neg"},
	}
	if len(got) != len(want) {
		t.Fatalf("Load() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Load()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLoad_UnknownSplit(t *testing.T) {
	if _, err := Load(afero.NewMemMapFs(), "/d", "dev"); err == nil {
		t.Error("expected error for unknown split")
	}
}

func TestLoad_MissingCorpus(t *testing.T) {
	if _, err := Load(afero.NewMemMapFs(), "/d", Test); err == nil {
		t.Error("expected error for missing corpus")
	}
}

func corpusArchive(t *testing.T) []byte {
	t.Helper()
	files := map[string]string{
		"aclImdb/train/pos/0_9.txt": "good",
		"aclImdb/train/neg/0_1.txt": "bad",
		"aclImdb/test/pos/0_9.txt":  "fine",
		"aclImdb/test/neg/0_1.txt":  "poor",
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		body := files[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		_, _ = tw.Write([]byte(body))
	}
	_ = tw.Close()
	_ = gz.Close()
	return buf.Bytes()
}

func TestEnsure(t *testing.T) {
	payload := corpusArchive(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	f := fetch.New(fs, fetch.WithLogger(zerolog.Nop()))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := Ensure(ctx, f, "/data", srv.URL+"/aclImdb_v1.tar.gz", zerolog.Nop()); err != nil {
			t.Fatalf("Ensure() error = %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}

	test, err := Load(fs, "/data", Test)
	if err != nil {
		t.Fatal(err)
	}
	if len(test) != 2 || test[0].Label != "pos" || test[1].Text != "poor" {
		t.Errorf("Load(test) = %+v", test)
	}
}

func TestEnsure_InterruptedExtraction(t *testing.T) {
	payload := corpusArchive(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"/data/imdb/.extracting/aclImdb/train/pos/9_9.txt": "left over",
	})
	f := fetch.New(fs, fetch.WithLogger(zerolog.Nop()))

	if err := Ensure(context.Background(), f, "/data", srv.URL+"/aclImdb_v1.tar.gz", zerolog.Nop()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	train, err := Load(fs, "/data", Train)
	if err != nil {
		t.Fatal(err)
	}
	if len(train) != 2 {
		t.Errorf("Load(train) = %+v, want the 2 archived reviews", train)
	}
	if ok, _ := afero.Exists(fs, "/data/imdb/.extracting"); ok {
		t.Error("staging directory left behind")
	}
}

func TestEnsure_ArchiveWithoutCorpus(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	_ = tw.WriteHeader(&tar.Header{Name: "other/readme.txt", Mode: 0644, Size: 2, Typeflag: tar.TypeReg})
	_, _ = tw.Write([]byte("hi"))
	_ = tw.Close()
	_ = gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	f := fetch.New(fs, fetch.WithLogger(zerolog.Nop()))
	if err := Ensure(context.Background(), f, "/data", srv.URL+"/x.tar.gz", zerolog.Nop()); err == nil {
		t.Error("expected error for archive without aclImdb")
	}
	if ok, _ := afero.DirExists(fs, Dir("/data")); ok {
		t.Error("corpus directory created from a bad archive")
	}
}
