package jamf

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
)

// TemporaryCredentials are the short-lived S3 credentials issued for one
// JCDS upload by POST /api/v1/jcds/files.
type TemporaryCredentials struct {
	AccessKeyID     string `json:"accessKeyID"     yaml:"accessKeyID"`
	SecretAccessKey string `json:"secretAccessKey" yaml:"-"`
	SessionToken    string `json:"sessionToken"    yaml:"-"`
	Region          string `json:"region"          yaml:"region"`
	BucketName      string `json:"bucketName"      yaml:"bucketName"`
	Path            string `json:"path"            yaml:"path"`
	UUID            string `json:"uuid"            yaml:"uuid"`
}

// DownloadURL is the signed URL returned by GET /api/v1/jcds/files/{name}.
type DownloadURL struct {
	URI string `json:"uri" yaml:"uri"`
}

// PartSpec is one part of a multipart upload.
type PartSpec struct {
	// PartNumber starts at 1.
	PartNumber int32
	Offset     int64
	Length     int64
	// ETag is filled in once the part is uploaded.
	ETag string
}

// End returns the offset one past the part's last byte.
func (p PartSpec) End() int64 {
	return p.Offset + p.Length
}

// TransferSession is the state of one upload. It is owned by the upload
// call that created it.
type TransferSession struct {
	ID          uuid.UUID
	ObjectName  string
	ObjectKey   string
	SizeBytes   int64
	Credentials TemporaryCredentials
	// Parts is empty for single-part uploads.
	Parts    []PartSpec
	UploadID string
}

// NewTransferSession starts a session for objectName of size bytes.
func NewTransferSession(objectName string, size int64, credentials TemporaryCredentials) *TransferSession {
	return &TransferSession{
		ID:          uuid.New(),
		ObjectName:  objectName,
		ObjectKey:   credentials.Path + objectName,
		SizeBytes:   size,
		Credentials: credentials,
	}
}

// Multipart reports whether the session uploads in parts.
func (s *TransferSession) Multipart() bool {
	return len(s.Parts) > 0
}

// UsesMultipart reports whether a file of size bytes is uploaded in parts.
func UsesMultipart(size int64) bool {
	return ExceedsPartThreshold(size, constants.MultipartThreshold)
}

// ExceedsPartThreshold reports whether size reaches threshold, the smallest
// size uploaded in parts.
func ExceedsPartThreshold(size, threshold int64) bool {
	return size >= threshold
}

// PlanParts splits size bytes into contiguous parts of partSize, numbered
// from 1. The last part holds the remainder.
func PlanParts(size, partSize int64) []PartSpec {
	if size <= 0 || partSize <= 0 {
		return nil
	}

	parts := make([]PartSpec, 0, (size+partSize-1)/partSize)

	var number int32 = 1

	for offset := int64(0); offset < size; offset += partSize {
		parts = append(parts, PartSpec{
			PartNumber: number,
			Offset:     offset,
			Length:     min(partSize, size-offset),
		})
		number++
	}

	return parts
}

// ChunkRange is one ranged read of a download. End is inclusive, as in
// the HTTP Range header.
type ChunkRange struct {
	Index int
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (c ChunkRange) Length() int64 {
	return c.End - c.Start + 1
}

// Header renders the Range header value.
func (c ChunkRange) Header() string {
	return "bytes=" + strconv.FormatInt(c.Start, 10) + "-" + strconv.FormatInt(c.End, 10)
}

// PlanChunks splits size bytes into ranged reads of chunkSize.
func PlanChunks(size, chunkSize int64) []ChunkRange {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}

	chunks := make([]ChunkRange, 0, (size+chunkSize-1)/chunkSize)

	for start := int64(0); start < size; start += chunkSize {
		chunks = append(chunks, ChunkRange{
			Index: len(chunks),
			Start: start,
			End:   min(start+chunkSize, size) - 1,
		})
	}

	return chunks
}

// UploadResult describes a completed upload.
type UploadResult struct {
	SessionID  uuid.UUID
	ObjectKey  string
	SizeBytes  int64
	Multipart  bool
	PartCount  int
	Package    *HrefResponse
	Collisions []Package
}
