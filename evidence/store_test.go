package evidence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/datatrack/dbopen"
	"github.com/hazyhaar/datatrack/horosafe"
	"github.com/hazyhaar/datatrack/idgen"
)

func newTestStore(t *testing.T) (*Store, *FileBlobs) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchemaFunc(ApplySchema))
	blobs, err := NewFileBlobs(t.TempDir())
	if err != nil {
		t.Fatalf("file blobs: %v", err)
	}
	return NewStore(db, blobs, WithIDGenerator(idgen.Sequence("raw_"))), blobs
}

func TestPut_DedupAcrossURLs(t *testing.T) {
	// WHAT: The same payload stored under two canonical URLs yields one object.
	// WHY: Evidence is keyed by content; mirrors of one file must not multiply rows.
	s, _ := newTestStore(t)
	ctx := context.Background()
	body := []byte("year,value\n2024,1.5\n")

	first, err := s.Put(ctx, PutInput{SourceID: "src-1", RunID: "run-1", ContentType: "text/csv",
		CanonicalURL: "https://a.example/data.csv", Body: body})
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	if first.Reused {
		t.Error("first put should not be reused")
	}
	second, err := s.Put(ctx, PutInput{SourceID: "src-1", RunID: "run-2", ContentType: "text/csv",
		CanonicalURL: "https://mirror.example/data.csv", Body: body})
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if !second.Reused {
		t.Error("second put should be reused")
	}
	if second.Object.ID != first.Object.ID {
		t.Errorf("id: got %q, want %q", second.Object.ID, first.Object.ID)
	}
	if first.Object.SHA256 != Hash(body) {
		t.Errorf("sha256: got %q", first.Object.SHA256)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("objects: got %d, want 1", n)
	}
}

func TestPut_LinksEveryRun(t *testing.T) {
	// WHAT: A reused object is linked to each run that downloaded it.
	// WHY: Run provenance must list its evidence even when nothing new was stored.
	s, _ := newTestStore(t)
	ctx := context.Background()
	body := []byte("payload")

	for _, run := range []string{"run-1", "run-2", "run-2"} {
		if _, err := s.Put(ctx, PutInput{SourceID: "src-1", RunID: run, Body: body}); err != nil {
			t.Fatalf("put %s: %v", run, err)
		}
	}
	for _, run := range []string{"run-1", "run-2"} {
		objs, err := s.ListForRun(ctx, run)
		if err != nil {
			t.Fatalf("list %s: %v", run, err)
		}
		if len(objs) != 1 {
			t.Errorf("%s: got %d objects, want 1", run, len(objs))
		}
	}
}

func TestPut_WritesBlobUnderHashKey(t *testing.T) {
	// WHAT: Bytes land at raw/{source}/{sha[:2]}/{sha} and read back intact.
	// WHY: The blob layout is how operators locate evidence outside the database.
	s, blobs := newTestStore(t)
	ctx := context.Background()
	body := []byte("%PDF-1.4 not really")

	res, err := s.Put(ctx, PutInput{SourceID: "src-9", RunID: "run-1", ContentType: "application/pdf", Body: body})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	sha := res.Object.SHA256
	path := filepath.Join(blobs.root, "raw", "src-9", sha[:2], sha)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("blob not at %s: %v", path, err)
	}
	if !strings.HasPrefix(res.Object.StorageURI, "file://") {
		t.Errorf("uri: got %q", res.Object.StorageURI)
	}

	obj, data, err := s.Open(ctx, res.Object.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(data) != string(body) {
		t.Errorf("data: got %q", data)
	}
	if obj.Size != int64(len(body)) {
		t.Errorf("size: got %d", obj.Size)
	}
}

func TestPut_ConcurrentIdenticalPayloads(t *testing.T) {
	// WHAT: Parallel puts of the same payload all resolve to one object.
	// WHY: A uniqueness conflict on sha256 must read back the winner, not fail.
	s, _ := newTestStore(t)
	ctx := context.Background()
	body := []byte("shared")

	var wg sync.WaitGroup
	ids := make([]string, 6)
	errs := make([]error, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Put(ctx, PutInput{SourceID: "src-1", RunID: "run-1", Body: body})
			errs[i] = err
			if err == nil {
				ids[i] = res.Object.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Errorf("put %d: id %q, want %q", i, ids[i], ids[0])
		}
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("objects: got %d, want 1", n)
	}
}

func TestSupersede(t *testing.T) {
	// WHAT: Supersede flips status and keeps bytes readable.
	// WHY: Status is the only mutable field of a raw object.
	s, _ := newTestStore(t)
	ctx := context.Background()
	res, err := s.Put(ctx, PutInput{SourceID: "src-1", Body: []byte("v1")})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Supersede(ctx, res.Object.ID); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	obj, data, err := s.Open(ctx, res.Object.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if obj.Status != StatusSuperseded {
		t.Errorf("status: got %q", obj.Status)
	}
	if string(data) != "v1" {
		t.Errorf("data: got %q", data)
	}
	if err := s.Supersede(ctx, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("missing: got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	// WHAT: Unknown IDs return ErrObjectNotFound.
	// WHY: The API maps this sentinel to 404.
	s, _ := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestPut_RequiresSource(t *testing.T) {
	// WHAT: Put rejects an empty source id.
	// WHY: The blob key is namespaced by source.
	s, _ := newTestStore(t)
	if _, err := s.Put(context.Background(), PutInput{Body: []byte("x")}); err == nil {
		t.Error("expected error")
	}
}

func TestFileBlobs_RejectsTraversal(t *testing.T) {
	// WHAT: Keys escaping the root are refused.
	// WHY: Source ids come from seed files and must not write outside the data dir.
	blobs, err := NewFileBlobs(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = blobs.Put(context.Background(), "../outside", []byte("x"), "")
	if !errors.Is(err, horosafe.ErrPathTraversal) {
		t.Errorf("got %v", err)
	}
}

func TestFileBlobs_GetMissing(t *testing.T) {
	// WHAT: Missing keys report ErrBlobNotFound and Exists=false.
	// WHY: Callers distinguish absent evidence from I/O failures.
	blobs, err := NewFileBlobs(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := blobs.Get(ctx, "raw/x/ab/abc"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("get: got %v", err)
	}
	ok, err := blobs.Exists(ctx, "raw/x/ab/abc")
	if err != nil || ok {
		t.Errorf("exists: got %v, %v", ok, err)
	}
}

func TestNewBlobs_FromEnv(t *testing.T) {
	// WHAT: EVIDENCE_STORAGE_TYPE selects the backend; fs is the default.
	// WHY: Deployments switch storage without code changes.
	dir := t.TempDir()
	t.Setenv("EVIDENCE_STORAGE_TYPE", "")
	t.Setenv("DATA_DIR", dir)

	var cfg BlobConfig
	cfg.ApplyEnv()
	b, err := NewBlobs(context.Background(), cfg)
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	if _, ok := b.(*FileBlobs); !ok {
		t.Errorf("got %T, want *FileBlobs", b)
	}

	t.Setenv("EVIDENCE_STORAGE_TYPE", "ftp")
	cfg = BlobConfig{}
	cfg.ApplyEnv()
	if _, err := NewBlobs(context.Background(), cfg); err == nil {
		t.Error("expected error for unsupported type")
	}
}
