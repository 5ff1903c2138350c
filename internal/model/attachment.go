package model

import "time"

// Attachment is one email's reference to a content-addressed blob. Rows that
// share a Hash share StoragePath and StorageDisk.
type Attachment struct {
	ID      int64 `json:"id"`
	EmailID int64 `json:"email_id"`

	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`

	// Hash is the hex SHA-256 of the uncompressed content.
	Hash         string `json:"hash"`
	IsCompressed bool   `json:"is_compressed"`

	// ReferenceCount on the canonical row (lowest ID per Hash) counts every
	// row using the blob. Rows that reuse a blob are created with 1.
	ReferenceCount int `json:"reference_count"`

	StoragePath string `json:"storage_path"`
	StorageDisk string `json:"storage_disk"`

	ContentID *string `json:"content_id,omitempty"`
	IsInline  bool    `json:"is_inline"`

	// ExtractedText holds indexable text for PDF and text parts.
	ExtractedText *string `json:"extracted_text,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AttachmentPayload is attachment content as it comes out of a parsed message,
// before it has been stored.
type AttachmentPayload struct {
	Filename  string
	MimeType  string
	Content   []byte
	ContentID *string
	IsInline  bool
}
