package attachment

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/nhle/mailarchive/internal/blob"
	"github.com/nhle/mailarchive/internal/digest"
	"github.com/nhle/mailarchive/internal/model"
	"github.com/nhle/mailarchive/internal/store"
	"github.com/nhle/mailarchive/tests/testutil"
)

type stubExtractor struct {
	calls int
}

func (x *stubExtractor) Extract(_ context.Context, mimeType string, content []byte) *string {
	x.calls++
	if !strings.HasPrefix(mimeType, "text/") {
		return nil
	}
	s := string(content)
	return &s
}

type fixture struct {
	store *Store
	repo  *store.SQLiteStore
	fs    afero.Fs
	disk  blob.Disk
	x     *stubExtractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	disk := blob.NewLocalDiskFs(fs)
	repo := testutil.NewTestStore(t)
	x := &stubExtractor{}
	clock := func() time.Time { return time.Date(2025, 10, 23, 9, 0, 0, 0, time.UTC) }
	s := New(repo, blob.NewRegistry(disk),
		WithExtractor(x),
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &fixture{store: s, repo: repo, fs: fs, disk: disk, x: x}
}

func (f *fixture) email(t *testing.T, id string) *model.Email {
	t.Helper()
	return testutil.MustCreateEmail(t, f.repo, testutil.NewEmail(id, time.Now()))
}

func TestDedupAndReferenceCounting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e1 := f.email(t, "one@x")
	e2 := f.email(t, "two@x")

	a1, err := f.store.StorePayload(ctx, e1.ID, model.AttachmentPayload{
		Filename: "first.txt", MimeType: "text/plain", Content: []byte("ABC"),
	})
	if err != nil {
		t.Fatalf("StorePayload: %v", err)
	}
	a2, err := f.store.StorePayload(ctx, e2.ID, model.AttachmentPayload{
		Filename: "second.txt", MimeType: "text/plain", Content: []byte("ABC"),
	})
	if err != nil {
		t.Fatalf("StorePayload: %v", err)
	}

	if a1.ID == a2.ID {
		t.Fatalf("expected two rows")
	}
	if a1.StoragePath != a2.StoragePath || a1.Hash != a2.Hash {
		t.Fatalf("rows should share path and digest: %q vs %q", a1.StoragePath, a2.StoragePath)
	}
	if a2.Filename != "second.txt" {
		t.Fatalf("filename = %s", a2.Filename)
	}
	if f.x.calls != 1 {
		t.Fatalf("extractor ran %d times, want 1", f.x.calls)
	}
	if a2.ExtractedText == nil || *a2.ExtractedText != "ABC" {
		t.Fatalf("reused row should copy extracted text, got %v", a2.ExtractedText)
	}

	hash := digest.Sum([]byte("ABC"))
	canonical, err := f.repo.FindAttachmentByHash(ctx, hash)
	if err != nil {
		t.Fatalf("FindAttachmentByHash: %v", err)
	}
	if canonical.ReferenceCount != 2 {
		t.Fatalf("reference count = %d, want 2", canonical.ReferenceCount)
	}

	deleted, err := f.store.Release(ctx, hash)
	if err != nil || deleted {
		t.Fatalf("first release = %v, %v", deleted, err)
	}
	canonical, _ = f.repo.FindAttachmentByHash(ctx, hash)
	if canonical.ReferenceCount != 1 {
		t.Fatalf("reference count = %d, want 1", canonical.ReferenceCount)
	}
	if ok, _ := f.disk.Exists(ctx, a1.StoragePath); !ok {
		t.Fatalf("blob should survive while referenced")
	}

	deleted, err = f.store.Release(ctx, hash)
	if err != nil || !deleted {
		t.Fatalf("last release = %v, %v", deleted, err)
	}
	if ok, _ := f.disk.Exists(ctx, a1.StoragePath); ok {
		t.Fatalf("blob should be deleted")
	}
	if _, err := f.repo.GetAttachment(ctx, a1.ID); err == nil {
		t.Fatalf("canonical row should be deleted")
	}
}

func TestStoragePathAndDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.email(t, "paths@x")

	a, err := f.store.StorePayload(ctx, e.ID, model.AttachmentPayload{Content: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("StorePayload: %v", err)
	}
	if a.Filename != DefaultFilename || a.MimeType != DefaultMimeType {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if !strings.HasPrefix(a.StoragePath, "attachments/2025/10/23/") || !strings.HasSuffix(a.StoragePath, "_attachment") {
		t.Fatalf("storage path = %s", a.StoragePath)
	}
	if a.StorageDisk != "local" {
		t.Fatalf("storage disk = %s", a.StorageDisk)
	}

	b, err := f.store.StorePayload(ctx, e.ID, model.AttachmentPayload{
		Filename: "../../etc/passwd", Content: []byte("other"),
	})
	if err != nil {
		t.Fatalf("StorePayload: %v", err)
	}
	if !strings.HasSuffix(b.StoragePath, "_passwd") || strings.Contains(b.StoragePath, "..") {
		t.Fatalf("unsafe storage path %s", b.StoragePath)
	}
}

func TestLargeAttachmentsAreCompressed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.email(t, "big@x")

	content := bytes.Repeat([]byte("quarterly figures "), 200)
	a, err := f.store.StorePayload(ctx, e.ID, model.AttachmentPayload{
		Filename: "report.csv", MimeType: "text/csv", Content: content,
	})
	if err != nil {
		t.Fatalf("StorePayload: %v", err)
	}
	if !a.IsCompressed || a.SizeBytes != int64(len(content)) {
		t.Fatalf("compressed=%v size=%d", a.IsCompressed, a.SizeBytes)
	}

	raw, err := afero.ReadFile(f.fs, a.StoragePath)
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if len(raw) >= len(content) {
		t.Fatalf("stored %d bytes, want fewer than %d", len(raw), len(content))
	}

	got, err := f.store.Contents(ctx, a)
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("contents mismatch")
	}
	if ok, err := f.store.Verify(ctx, a); err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.email(t, "tamper@x")

	a, err := f.store.StorePayload(ctx, e.ID, model.AttachmentPayload{
		Filename: "a.bin", Content: []byte("original"),
	})
	if err != nil {
		t.Fatalf("StorePayload: %v", err)
	}
	if err := afero.WriteFile(f.fs, a.StoragePath, []byte("modified"), 0o640); err != nil {
		t.Fatalf("tampering: %v", err)
	}

	ok, err := f.store.Verify(ctx, a)
	if err != nil || ok {
		t.Fatalf("Verify = %v, %v; want false, nil", ok, err)
	}
	if _, err := f.store.VerifiedContents(ctx, a); err == nil {
		t.Fatalf("expected integrity error")
	}
}

func TestFailedLinkKeepsReferenceCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.email(t, "one@x")
	content := []byte("shared figures")

	if _, err := f.store.StorePayload(ctx, e.ID, model.AttachmentPayload{Filename: "a.txt", Content: content}); err != nil {
		t.Fatalf("StorePayload: %v", err)
	}
	// No email 9999 exists, so the linked row cannot be saved.
	if _, err := f.store.StorePayload(ctx, 9999, model.AttachmentPayload{Filename: "b.txt", Content: content}); err == nil {
		t.Fatalf("expected an error for an unknown email")
	}

	canonical, err := f.repo.FindAttachmentByHash(ctx, digest.Sum(content))
	if err != nil {
		t.Fatalf("FindAttachmentByHash: %v", err)
	}
	if canonical.ReferenceCount != 1 {
		t.Fatalf("reference count = %d, want 1", canonical.ReferenceCount)
	}
}
