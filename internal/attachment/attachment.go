// Package attachment stores attachment content once per digest and tracks
// which emails reference it.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailarchive/internal/blob"
	"github.com/nhle/mailarchive/internal/codec"
	"github.com/nhle/mailarchive/internal/digest"
	"github.com/nhle/mailarchive/internal/model"
	"github.com/nhle/mailarchive/internal/store"
)

const (
	// DefaultFilename names payloads that arrive without one.
	DefaultFilename = "attachment"

	// DefaultMimeType is used when a payload has no content type.
	DefaultMimeType = "application/octet-stream"
)

// ErrIntegrity is returned when stored content no longer matches its digest.
var ErrIntegrity = errors.New("attachment integrity check failed")

// TextExtractor turns attachment content into indexable text.
type TextExtractor interface {
	Extract(ctx context.Context, mimeType string, content []byte) *string
}

// Store persists attachment payloads against content-addressed blobs.
//
// Two concurrent first writes of the same digest can both miss the lookup and
// each write a blob and a canonical row. Both remain valid; deduplication is
// best effort for never-seen content.
type Store struct {
	repo      store.AttachmentRepository
	disks     *blob.Registry
	extractor TextExtractor
	threshold int
	logger    *slog.Logger
	now       func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithThreshold overrides the compression threshold.
func WithThreshold(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithExtractor enables text extraction for fresh blobs.
func WithExtractor(x TextExtractor) Option {
	return func(s *Store) { s.extractor = x }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for dated storage paths.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store writing new blobs to the registry's default disk.
func New(repo store.AttachmentRepository, disks *blob.Registry, opts ...Option) *Store {
	s := &Store{
		repo:      repo,
		disks:     disks,
		threshold: codec.DefaultThreshold,
		logger:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StorePayload saves p for emailID. Content already in the archive is linked
// rather than written again.
func (s *Store) StorePayload(ctx context.Context, emailID int64, p model.AttachmentPayload) (*model.Attachment, error) {
	filename := strings.TrimSpace(p.Filename)
	if filename == "" {
		filename = DefaultFilename
	}
	mimeType := strings.TrimSpace(p.MimeType)
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	hash := digest.Sum(p.Content)

	existing, err := s.repo.FindAttachmentByHash(ctx, hash)
	switch {
	case err == nil:
		return s.link(ctx, emailID, existing, filename, mimeType, p)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up attachment %s: %w", filename, err)
	}

	stored, compressed, err := codec.Encode(p.Content, s.threshold)
	if err != nil {
		return nil, fmt.Errorf("compressing attachment %s: %w", filename, err)
	}

	disk := s.disks.Default()
	storagePath := s.storagePath(filename)
	if err := disk.Put(ctx, storagePath, stored); err != nil {
		return nil, fmt.Errorf("writing attachment %s: %w", filename, err)
	}

	a := &model.Attachment{
		EmailID:        emailID,
		Filename:       filename,
		MimeType:       mimeType,
		SizeBytes:      int64(len(p.Content)),
		Hash:           hash,
		IsCompressed:   compressed,
		ReferenceCount: 1,
		StoragePath:    storagePath,
		StorageDisk:    disk.Name(),
		ContentID:      p.ContentID,
		IsInline:       p.IsInline,
	}
	if s.extractor != nil {
		a.ExtractedText = s.extractor.Extract(ctx, mimeType, p.Content)
	}

	if err := s.repo.CreateAttachment(ctx, a); err != nil {
		if derr := disk.Delete(ctx, storagePath); derr != nil {
			s.logger.Warn("removing orphaned blob", "path", storagePath, "error", derr)
		}
		return nil, fmt.Errorf("saving attachment %s: %w", filename, err)
	}
	return a, nil
}

// link records another use of an existing blob.
func (s *Store) link(ctx context.Context, emailID int64, canonical *model.Attachment, filename, mimeType string, p model.AttachmentPayload) (*model.Attachment, error) {
	a := &model.Attachment{
		EmailID:        emailID,
		Filename:       filename,
		MimeType:       mimeType,
		SizeBytes:      canonical.SizeBytes,
		Hash:           canonical.Hash,
		IsCompressed:   canonical.IsCompressed,
		ReferenceCount: 1,
		StoragePath:    canonical.StoragePath,
		StorageDisk:    canonical.StorageDisk,
		ContentID:      p.ContentID,
		IsInline:       p.IsInline,
		ExtractedText:  canonical.ExtractedText,
	}
	if err := s.repo.IncrementReferenceCount(ctx, canonical.Hash); err != nil {
		return nil, fmt.Errorf("referencing attachment %s: %w", filename, err)
	}
	if err := s.repo.CreateAttachment(ctx, a); err != nil {
		if _, _, derr := s.repo.DecrementReferenceCount(ctx, canonical.Hash); derr != nil {
			s.logger.Warn("dropping unused reference", "hash", canonical.Hash, "error", derr)
		}
		return nil, fmt.Errorf("saving attachment %s: %w", filename, err)
	}
	return a, nil
}

// storagePath builds attachments/YYYY/MM/DD/<uuid>_<basename>.
func (s *Store) storagePath(filename string) string {
	now := s.now().UTC()
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = DefaultFilename
	}
	return path.Join(
		"attachments",
		now.Format("2006"), now.Format("01"), now.Format("02"),
		uuid.NewString()+"_"+base,
	)
}

// Contents returns the decompressed content of a.
func (s *Store) Contents(ctx context.Context, a *model.Attachment) ([]byte, error) {
	disk, err := s.disks.Disk(a.StorageDisk)
	if err != nil {
		return nil, err
	}
	stored, err := disk.Get(ctx, a.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("reading attachment %d: %w", a.ID, err)
	}
	data, err := codec.Decode(stored, a.IsCompressed)
	if err != nil {
		return nil, fmt.Errorf("decoding attachment %d: %w", a.ID, err)
	}
	return data, nil
}

// Verify reports whether a's stored content still hashes to a.Hash.
func (s *Store) Verify(ctx context.Context, a *model.Attachment) (bool, error) {
	data, err := s.Contents(ctx, a)
	if err != nil {
		if errors.Is(err, codec.ErrIntegrity) {
			return false, nil
		}
		return false, err
	}
	return digest.Verify(data, a.Hash), nil
}

// VerifiedContents returns a's content, failing with ErrIntegrity on a
// digest mismatch.
func (s *Store) VerifiedContents(ctx context.Context, a *model.Attachment) ([]byte, error) {
	data, err := s.Contents(ctx, a)
	if err != nil {
		return nil, err
	}
	if !digest.Verify(data, a.Hash) {
		return nil, fmt.Errorf("attachment %d: %w", a.ID, ErrIntegrity)
	}
	return data, nil
}

// Release drops one reference to hash. When the last reference goes the
// canonical row and the blob are deleted and Release reports true.
func (s *Store) Release(ctx context.Context, hash string) (bool, error) {
	canonical, remaining, err := s.repo.DecrementReferenceCount(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("releasing attachment %s: %w", hash, err)
	}
	if remaining > 0 {
		return false, nil
	}

	disk, err := s.disks.Disk(canonical.StorageDisk)
	if err != nil {
		return true, err
	}
	if err := disk.Delete(ctx, canonical.StoragePath); err != nil {
		return true, fmt.Errorf("deleting blob %s: %w", canonical.StoragePath, err)
	}
	return true, nil
}
