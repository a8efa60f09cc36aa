package domain

import (
	"encoding/hex"
	"time"
)

// RemoteFileRef is a file listed in the source drive folder.
type RemoteFileRef struct {
	RemoteID   string
	Name       string
	ModifiedAt time.Time
}

// Fingerprint is the SHA-256 digest of a file's content. Two files with the
// same fingerprint are duplicates regardless of name.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// SyncStatus is the per-file result of a sync pass.
type SyncStatus string

const (
	SyncSkippedLocalExists   SyncStatus = "SKIPPED_LOCAL_EXISTS"
	SyncSkippedDuplicateHash SyncStatus = "SKIPPED_DUPLICATE_HASH"
	SyncUploaded             SyncStatus = "UPLOADED"
	SyncUploadFailed         SyncStatus = "UPLOAD_FAILED"
	SyncDownloadFailed       SyncStatus = "DOWNLOAD_FAILED"
)

type SyncOutcome struct {
	RemoteID    string
	Name        string
	Status      SyncStatus
	Fingerprint string
	Err         error
}
