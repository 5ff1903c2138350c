package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"

	"github.com/nhle/mailarchive/internal/model"
)

// fakeS3 keeps objects in memory and mimics the SDK's not-found errors.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func disksUnderTest(t *testing.T) []Disk {
	t.Helper()

	bolt, err := NewBoltDisk(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("NewBoltDisk: %v", err)
	}
	t.Cleanup(func() { bolt.Close() })

	return []Disk{
		NewLocalDiskFs(afero.NewMemMapFs()),
		bolt,
		NewS3DiskClient(newFakeS3(), "archive", "blobs"),
	}
}

func TestDiskContract(t *testing.T) {
	ctx := context.Background()
	const p = "attachments/2025/10/23/abc_report.pdf"

	for _, d := range disksUnderTest(t) {
		t.Run(d.Name(), func(t *testing.T) {
			ok, err := d.Exists(ctx, p)
			if err != nil || ok {
				t.Fatalf("Exists before put = %v, %v", ok, err)
			}
			if _, err := d.Get(ctx, p); !errors.Is(err, ErrNotExist) {
				t.Fatalf("Get missing: got %v, want ErrNotExist", err)
			}

			if err := d.Put(ctx, p, []byte("payload")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := d.Get(ctx, p)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != "payload" {
				t.Fatalf("Get = %q", got)
			}
			if ok, _ := d.Exists(ctx, p); !ok {
				t.Fatalf("expected blob to exist")
			}

			if err := d.Put(ctx, p, []byte("replaced")); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			if got, _ := d.Get(ctx, p); string(got) != "replaced" {
				t.Fatalf("overwrite = %q", got)
			}

			if err := d.Delete(ctx, p); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if ok, _ := d.Exists(ctx, p); ok {
				t.Fatalf("expected blob to be gone")
			}
			if err := d.Delete(ctx, p); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
		})
	}
}

func TestDiskRejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	for _, d := range disksUnderTest(t) {
		if err := d.Put(ctx, "../etc/passwd", []byte("x")); !errors.Is(err, ErrStorage) {
			t.Fatalf("%s: got %v, want ErrStorage", d.Name(), err)
		}
		if err := d.Put(ctx, "", []byte("x")); !errors.Is(err, ErrStorage) {
			t.Fatalf("%s: empty path got %v", d.Name(), err)
		}
	}
}

func TestLocalDiskLeavesNoTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewLocalDiskFs(fs)
	if err := d.Put(context.Background(), "a/b/c.bin", []byte("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entries, err := afero.ReadDir(fs, "a/b")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "c.bin" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestRegistry(t *testing.T) {
	local := NewLocalDiskFs(afero.NewMemMapFs())
	s3disk := NewS3DiskClient(newFakeS3(), "b", "")
	r := NewRegistry(s3disk, local)

	if r.Default().Name() != "s3" {
		t.Fatalf("default = %s", r.Default().Name())
	}
	if d, err := r.Disk("local"); err != nil || d != local {
		t.Fatalf("Disk(local) = %v, %v", d, err)
	}
	if _, err := r.Disk("ftp"); !errors.Is(err, ErrStorage) {
		t.Fatalf("unknown disk: got %v", err)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "local" || names[1] != "s3" {
		t.Fatalf("names = %v", names)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	r, closeFn, err := Open(context.Background(), model.StorageConfig{
		Disk:     "bolt",
		Root:     filepath.Join(dir, "storage"),
		BoltPath: filepath.Join(dir, "blobs.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	if r.Default().Name() != "bolt" {
		t.Fatalf("default = %s", r.Default().Name())
	}
	if _, err := r.Disk("local"); err != nil {
		t.Fatalf("local disk should be registered: %v", err)
	}

	_, _, err = Open(context.Background(), model.StorageConfig{Disk: "s3", Root: filepath.Join(dir, "other")})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("unconfigured default: got %v", err)
	}
}
