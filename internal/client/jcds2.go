package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	jamfhttp "github.com/fivetwenty-io/jamfpro/internal/http"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// Static errors for err113 compliance.
var (
	ErrUploadIsDirectory = errors.New("upload path is a directory")
)

const (
	directionUpload   = "upload"
	directionDownload = "download"
)

// JCDS2 moves package files to and from the Jamf Cloud Distribution Service.
// Uploads go straight to S3 with temporary credentials; downloads are ranged
// reads of a signed URL.
type JCDS2 struct {
	requester  jamf.Requester
	packages   *PackagesClient
	httpClient *jamfhttp.Client
	dispatcher *jamf.Dispatcher
	s3Factory  S3ClientFactory
	logger     jamf.Logger
	metrics    *jamf.Metrics

	threshold     int64
	partSize      int64
	chunkSize     int64
	partTimeout   time.Duration
	chunkAttempts int
	chunkWait     time.Duration
}

// NewJCDS2 creates a transfer engine. Multipart parts and download chunks
// are fanned out through dispatcher. Each part upload and each ranged read is
// bounded by httpClient's request timeout.
func NewJCDS2(
	requester jamf.Requester,
	packages *PackagesClient,
	httpClient *jamfhttp.Client,
	dispatcher *jamf.Dispatcher,
	s3Factory S3ClientFactory,
	logger jamf.Logger,
	metrics *jamf.Metrics,
) *JCDS2 {
	if logger == nil {
		logger = jamf.NopLogger{}
	}

	return &JCDS2{
		requester:     requester,
		packages:      packages,
		httpClient:    httpClient,
		dispatcher:    dispatcher,
		s3Factory:     s3Factory,
		logger:        logger,
		metrics:       metrics,
		threshold:     constants.MultipartThreshold,
		partSize:      constants.UploadPartSize,
		chunkSize:     constants.DownloadChunkSize,
		partTimeout:   httpClient.Timeout(),
		chunkAttempts: constants.ChunkReadAttempts,
		chunkWait:     constants.ChunkRetryWait,
	}
}

// UploadFile implements jamf.TransferEngine.UploadFile. Files below 1 GiB
// are uploaded with one request, larger ones in parts. A package record named
// after the file is created once the object is stored.
func (j *JCDS2) UploadFile(ctx context.Context, filePath string) (*jamf.UploadResult, error) {
	name := filepath.Base(filePath)

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, &jamf.TransferError{Op: "upload", Object: name, Chunk: -1, Err: err}
	}

	if info.IsDir() {
		return nil, &jamf.TransferError{Op: "upload", Object: name, Chunk: -1, Err: ErrUploadIsDirectory}
	}

	collisions, err := j.packages.ListAll(ctx, jamf.PaginationOptions{
		Filter: jamf.FilterField("fileName").Eq(name),
	})
	if err != nil {
		return nil, &jamf.TransferError{Op: "list-packages", Object: name, Chunk: -1, Err: err}
	}

	for _, pkg := range collisions {
		j.logger.Warn("JCDS2-Upload file name already in use", map[string]interface{}{
			"file":         name,
			"package_id":   pkg.ID,
			"package_name": pkg.PackageName,
		})
	}

	creds, err := j.createFile(ctx)
	if err != nil {
		return nil, &jamf.TransferError{Op: "create-file", Object: name, Chunk: -1, Err: err}
	}

	session := jamf.NewTransferSession(name, info.Size(), *creds)

	store, err := j.s3Factory(ctx, session.Credentials)
	if err != nil {
		return nil, &jamf.TransferError{Op: "upload", Object: name, Chunk: -1, Err: err}
	}

	file, err := os.Open(filePath) //nolint:gosec // caller-supplied upload path
	if err != nil {
		return nil, &jamf.TransferError{Op: "upload", Object: name, Chunk: -1, Err: err}
	}

	defer func() { _ = file.Close() }()

	if jamf.ExceedsPartThreshold(session.SizeBytes, j.threshold) {
		err = j.uploadMultipart(ctx, store, session, file)
	} else {
		err = j.uploadSingle(ctx, store, session, file)
	}

	if err != nil {
		j.logger.Error("JCDS2-Upload failed", map[string]interface{}{
			"file":    filePath,
			"session": session.ID.String(),
			"error":   err.Error(),
		})

		return nil, err
	}

	href, err := j.packages.Create(ctx, jamf.NewPackage(name))
	if err != nil {
		return nil, &jamf.TransferError{Op: "create-package", Object: name, Chunk: -1, Err: err}
	}

	return &jamf.UploadResult{
		SessionID:  session.ID,
		ObjectKey:  session.ObjectKey,
		SizeBytes:  session.SizeBytes,
		Multipart:  session.Multipart(),
		PartCount:  len(session.Parts),
		Package:    href,
		Collisions: collisions,
	}, nil
}

func (j *JCDS2) createFile(ctx context.Context) (*jamf.TemporaryCredentials, error) {
	resp, err := j.requester.ProAPIRequest(ctx, http.MethodPost, constants.APIPathJCDSFiles)
	if err != nil {
		return nil, err
	}

	var creds jamf.TemporaryCredentials

	err = resp.Decode(&creds)
	if err != nil {
		return nil, err
	}

	return &creds, nil
}

func (j *JCDS2) uploadSingle(ctx context.Context, store S3API, session *jamf.TransferSession, file *os.File) error {
	j.logger.Info("JCDS2-Upload", map[string]interface{}{
		"file": session.ObjectName,
		"size": session.SizeBytes,
	})

	ref := newObjectRef(session)

	_, err := store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        ref.bucket,
		Key:           ref.key,
		Body:          io.NewSectionReader(file, 0, session.SizeBytes),
		ContentLength: aws.Int64(session.SizeBytes),
	})
	if err != nil {
		return &jamf.TransferError{Op: "put-object", Object: session.ObjectName, Chunk: -1, Err: err}
	}

	j.metrics.Transferred(directionUpload, session.SizeBytes)

	return nil
}

func (j *JCDS2) uploadMultipart(ctx context.Context, store S3API, session *jamf.TransferSession, file *os.File) error {
	j.logger.Info("JCDS2-UploadMultipart", map[string]interface{}{
		"file": session.ObjectName,
		"size": session.SizeBytes,
	})

	ref := newObjectRef(session)

	created, err := store.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: ref.bucket,
		Key:    ref.key,
	})
	if err != nil {
		return &jamf.TransferError{Op: "create-multipart", Object: session.ObjectName, Chunk: -1, Err: err}
	}

	session.UploadID = aws.ToString(created.UploadId)
	session.Parts = jamf.PlanParts(session.SizeBytes, j.partSize)

	handler := func(ctx context.Context, args jamf.Args[jamf.PartSpec]) (jamf.PartSpec, error) {
		return j.uploadPart(ctx, store, session, file, args.Value())
	}

	results, err := jamf.Dispatch(ctx, j.dispatcher, handler, jamf.PositionalArgs(session.Parts...), jamf.WithCollectErrors(false))
	if err != nil {
		j.abort(ctx, store, session)

		return &jamf.TransferError{Op: "upload-part", Object: session.ObjectName, Part: failedPart(err, session.Parts), Chunk: -1, Err: err}
	}

	if len(results) != len(session.Parts) {
		j.abort(ctx, store, session)

		return &jamf.TransferError{
			Op:     "upload-part",
			Object: session.ObjectName,
			Chunk:  -1,
			Err:    fmt.Errorf("%w: planned %d, uploaded %d", jamf.ErrPartCountMismatch, len(session.Parts), len(results)),
		}
	}

	completed := make([]types.CompletedPart, 0, len(results))

	for _, result := range results {
		session.Parts[result.Index] = result.Value
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(result.Value.ETag),
			PartNumber: aws.Int32(result.Value.PartNumber),
		})
	}

	_, err = store.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          ref.bucket,
		Key:             ref.key,
		UploadId:        aws.String(session.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		j.abort(ctx, store, session)

		return &jamf.TransferError{Op: "complete-multipart", Object: session.ObjectName, Chunk: -1, Err: err}
	}

	return nil
}

func (j *JCDS2) uploadPart(ctx context.Context, store S3API, session *jamf.TransferSession, file *os.File, part jamf.PartSpec) (jamf.PartSpec, error) {
	j.logger.Info("JCDS2-UploadMultipart-Part", map[string]interface{}{
		"part": part.PartNumber,
		"file": session.ObjectName,
	})

	if j.partTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, j.partTimeout)
		defer cancel()
	}

	ref := newObjectRef(session)

	out, err := store.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        ref.bucket,
		Key:           ref.key,
		UploadId:      aws.String(session.UploadID),
		PartNumber:    aws.Int32(part.PartNumber),
		Body:          io.NewSectionReader(file, part.Offset, part.Length),
		ContentLength: aws.Int64(part.Length),
	})
	if err != nil {
		return part, err
	}

	part.ETag = aws.ToString(out.ETag)
	j.metrics.Transferred(directionUpload, part.Length)

	return part, nil
}

// abort discards the multipart session. It runs even when ctx is cancelled.
func (j *JCDS2) abort(ctx context.Context, store S3API, session *jamf.TransferSession) {
	j.logger.Error("JCDS2-UploadMultipart-Aborted", map[string]interface{}{
		"file":      session.ObjectName,
		"upload_id": session.UploadID,
	})

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShortHTTPTimeout)
	defer cancel()

	ref := newObjectRef(session)

	_, err := store.AbortMultipartUpload(cleanupCtx, &s3.AbortMultipartUploadInput{
		Bucket:   ref.bucket,
		Key:      ref.key,
		UploadId: aws.String(session.UploadID),
	})
	if err != nil {
		j.logger.Warn("Failed to abort multipart upload", map[string]interface{}{
			"file":      session.ObjectName,
			"upload_id": session.UploadID,
			"error":     err.Error(),
		})
	}
}

func failedPart(err error, parts []jamf.PartSpec) int {
	var concErr *jamf.ConcurrencyError
	if errors.As(err, &concErr) && concErr.Index >= 0 && concErr.Index < len(parts) {
		return int(parts[concErr.Index].PartNumber)
	}

	return 0
}

// DownloadFile implements jamf.TransferEngine.DownloadFile. When destination
// is a directory the file name is appended to it. An existing file is never
// overwritten, even one created while the download runs. Chunks are written
// into a temporary file next to the destination, which is renamed once every
// chunk has arrived.
func (j *JCDS2) DownloadFile(ctx context.Context, fileName, destination string) (string, error) {
	target := destination

	info, err := os.Stat(destination)
	if err == nil && info.IsDir() {
		target = filepath.Join(destination, fileName)
	}

	_, err = os.Lstat(target)
	if err == nil {
		return "", &jamf.TransferError{Op: "download", Object: fileName, Chunk: -1, Err: fmt.Errorf("%w: %s", jamf.ErrDestinationExists, target)}
	}

	link, err := j.downloadURL(ctx, fileName)
	if err != nil {
		return "", err
	}

	size, err := j.contentLength(ctx, link.URI)
	if err != nil {
		return "", &jamf.TransferError{Op: "download-head", Object: fileName, Chunk: -1, Err: err}
	}

	j.logger.Info("JCDS2-Download", map[string]interface{}{
		"file":        fileName,
		"size":        size,
		"destination": target,
	})

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".jcds2-*")
	if err != nil {
		return "", &jamf.TransferError{Op: "download", Object: fileName, Chunk: -1, Err: err}
	}

	committed := false

	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	err = tmp.Truncate(size)
	if err != nil {
		return "", &jamf.TransferError{Op: "download", Object: fileName, Chunk: -1, Err: err}
	}

	err = j.readChunks(ctx, fileName, link.URI, size, tmp)
	if err != nil {
		return "", err
	}

	err = j.commit(tmp, target)
	if err != nil {
		return "", &jamf.TransferError{Op: "download", Object: fileName, Chunk: -1, Err: err}
	}

	committed = true

	return target, nil
}

func (j *JCDS2) commit(tmp *os.File, target string) error {
	err := tmp.Sync()
	if err != nil {
		return err
	}

	err = tmp.Close()
	if err != nil {
		return err
	}

	err = os.Chmod(tmp.Name(), constants.DownloadFilePerm)
	if err != nil {
		return err
	}

	// Claim target exclusively so a file created after the existence check
	// in DownloadFile is never replaced.
	placeholder, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, constants.DownloadFilePerm) //nolint:gosec // caller-supplied destination
	if err != nil {
		_ = os.Remove(tmp.Name())

		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", jamf.ErrDestinationExists, target)
		}

		return err
	}

	_ = placeholder.Close()

	err = os.Rename(tmp.Name(), target)
	if err != nil {
		_ = os.Remove(tmp.Name())
		_ = os.Remove(target)

		return err
	}

	return nil
}

func (j *JCDS2) downloadURL(ctx context.Context, fileName string) (*jamf.DownloadURL, error) {
	resp, err := j.requester.ProAPIRequest(ctx, http.MethodGet, constants.APIPathJCDSFiles+"/"+url.PathEscape(fileName))
	if err != nil {
		if jamf.IsNotFound(err) {
			err = fmt.Errorf("%w: %s", jamf.ErrFileNotFound, fileName)
		}

		return nil, &jamf.TransferError{Op: "resolve", Object: fileName, Chunk: -1, Err: err}
	}

	var link jamf.DownloadURL

	err = resp.Decode(&link)
	if err != nil {
		return nil, &jamf.TransferError{Op: "resolve", Object: fileName, Chunk: -1, Err: err}
	}

	return &link, nil
}

func (j *JCDS2) contentLength(ctx context.Context, uri string) (int64, error) {
	resp, err := j.httpClient.Do(ctx, &jamfhttp.Request{
		Method: http.MethodHead,
		URL:    uri,
		NoAuth: true,
	})
	if err != nil {
		return 0, err
	}

	header := resp.Headers.Get("Content-Length")
	if header == "" {
		return 0, jamf.ErrMissingContentLength
	}

	size, err := strconv.ParseInt(header, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: %q", jamf.ErrMissingContentLength, header)
	}

	return size, nil
}

func (j *JCDS2) readChunks(ctx context.Context, fileName, uri string, size int64, file *os.File) error {
	chunks := jamf.PlanChunks(size, j.chunkSize)

	handler := func(ctx context.Context, args jamf.Args[jamf.ChunkRange]) (int64, error) {
		return j.readChunk(ctx, fileName, uri, args.Value(), file)
	}

	_, err := jamf.Dispatch(ctx, j.dispatcher, handler, jamf.PositionalArgs(chunks...),
		jamf.WithMaxConcurrency(constants.DownloadConcurrency),
		jamf.WithCollectErrors(false),
	)
	if err != nil {
		chunk := -1

		var concErr *jamf.ConcurrencyError
		if errors.As(err, &concErr) {
			chunk = concErr.Index
		}

		return &jamf.TransferError{Op: "download-chunk", Object: fileName, Chunk: chunk, Err: err}
	}

	return nil
}

// readChunk fetches one range, retrying a bounded number of times.
func (j *JCDS2) readChunk(ctx context.Context, fileName, uri string, chunk jamf.ChunkRange, file *os.File) (int64, error) {
	var lastErr error

	for attempt := 1; attempt <= j.chunkAttempts; attempt++ {
		n, err := j.fetchChunk(ctx, uri, chunk, file)
		if err == nil {
			j.metrics.Transferred(directionDownload, n)

			return n, nil
		}

		lastErr = err

		if ctx.Err() != nil || attempt == j.chunkAttempts {
			break
		}

		j.logger.Warn("JCDS2-Download chunk failed, retrying", map[string]interface{}{
			"file":    fileName,
			"chunk":   chunk.Index,
			"attempt": attempt,
			"error":   err.Error(),
		})

		select {
		case <-time.After(j.chunkWait):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	return 0, lastErr
}

func (j *JCDS2) fetchChunk(ctx context.Context, uri string, chunk jamf.ChunkRange, file *os.File) (int64, error) {
	resp, err := j.httpClient.Do(ctx, &jamfhttp.Request{
		Method:  http.MethodGet,
		URL:     uri,
		NoAuth:  true,
		Headers: map[string]string{"Range": chunk.Header()},
	})
	if err != nil {
		return 0, err
	}

	length := int64(len(resp.Body))
	if length != chunk.Length() {
		return 0, fmt.Errorf("%w: %s returned %d bytes", jamf.ErrChunkLengthMismatch, chunk.Header(), length)
	}

	_, err = file.WriteAt(resp.Body, chunk.Start)
	if err != nil {
		return 0, fmt.Errorf("writing chunk %d: %w", chunk.Index, err)
	}

	return length, nil
}

var _ jamf.TransferEngine = (*JCDS2)(nil)
