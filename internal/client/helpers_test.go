package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"

	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// Test static errors.
var (
	ErrTestPartRejected     = errors.New("part rejected")
	ErrTestCompleteRejected = errors.New("complete rejected")
)

// fakeJamf is an in-memory Jamf Pro server with a JCDS download endpoint.
type fakeJamf struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	packages      []jamf.Package
	files         map[string][]byte
	rangeRequests []string
	failRanges    map[string]int
	objectDelay   time.Duration
	rejectTokens  map[string]bool
	classicBodies []string

	tokenCalls atomic.Int32
}

func newFakeJamf(t *testing.T) *fakeJamf {
	t.Helper()

	fake := &fakeJamf{
		t:            t,
		files:        make(map[string][]byte),
		failRanges:   make(map[string]int),
		rejectTokens: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/oauth/token", fake.handleToken)
	mux.HandleFunc("GET /api/v1/packages", fake.authorized(fake.handleListPackages))
	mux.HandleFunc("POST /api/v1/packages", fake.authorized(fake.handleCreatePackage))
	mux.HandleFunc("GET /api/v1/packages/{id}", fake.authorized(fake.handleGetPackage))
	mux.HandleFunc("DELETE /api/v1/packages/{id}", fake.authorized(fake.handleDeletePackage))
	mux.HandleFunc("POST /api/v1/jcds/files", fake.authorized(fake.handleCreateFile))
	mux.HandleFunc("GET /api/v1/jcds/files/{name}", fake.authorized(fake.handleDownloadURL))
	mux.HandleFunc("/JSSResource/", fake.authorized(fake.handleClassic))
	mux.HandleFunc("/s3/{name}", fake.handleObject)

	fake.server = httptest.NewServer(mux)
	t.Cleanup(fake.server.Close)

	return fake
}

func (f *fakeJamf) config() *jamf.Config {
	serverURL, _ := url.Parse(f.server.URL)
	port, _ := strconv.Atoi(serverURL.Port())

	session := jamf.DefaultSessionConfig()
	session.Scheme = "http"

	return &jamf.Config{
		Server:       serverURL.Hostname(),
		Port:         port,
		Session:      session,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}
}

func (f *fakeJamf) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeJamf) writeError(w http.ResponseWriter, status int, code, description string) {
	f.writeJSON(w, status, map[string]interface{}{
		"httpStatus": status,
		"errors":     []map[string]string{{"code": code, "description": description}},
	})
}

func (f *fakeJamf) handleToken(w http.ResponseWriter, r *http.Request) {
	n := f.tokenCalls.Add(1)

	if err := r.ParseForm(); err != nil || r.Form.Get("client_id") != "client-id" {
		f.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})

		return
	}

	f.writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": fmt.Sprintf("token-%d", n),
		"token_type":   "Bearer",
		"expires_in":   1200,
		"scope":        "api-role:1",
	})
}

// authorized rejects requests without a bearer token, or with one listed in rejectTokens.
func (f *fakeJamf) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

		f.mu.Lock()
		rejected := f.rejectTokens[token]
		f.mu.Unlock()

		if !ok || token == "" || rejected {
			f.writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Unauthorized")

			return
		}

		next(w, r)
	}
}

func (f *fakeJamf) addPackages(packages ...jamf.Package) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, pkg := range packages {
		if pkg.ID == "" {
			pkg.ID = strconv.Itoa(len(f.packages) + 1)
		}

		f.packages = append(f.packages, pkg)
	}
}

func (f *fakeJamf) snapshotPackages() []jamf.Package {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]jamf.Package(nil), f.packages...)
}

func (f *fakeJamf) handleListPackages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))

	pageSize, err := strconv.Atoi(query.Get("page-size"))
	if err != nil || pageSize <= 0 {
		pageSize = 100
	}

	filter := query.Get("filter")

	var matched []jamf.Package

	for _, pkg := range f.snapshotPackages() {
		if filter == "" || filter == jamf.FilterField("fileName").Eq(pkg.FileName).String() {
			matched = append(matched, pkg)
		}
	}

	start := min(page*pageSize, len(matched))
	end := min(start+pageSize, len(matched))

	f.writeJSON(w, http.StatusOK, jamf.ListResponse[jamf.Package]{
		TotalCount: len(matched),
		Results:    append([]jamf.Package{}, matched[start:end]...),
	})
}

func (f *fakeJamf) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var pkg jamf.Package

	err := json.NewDecoder(r.Body).Decode(&pkg)
	if err != nil {
		f.writeError(w, http.StatusBadRequest, "INVALID_FIELD", err.Error())

		return
	}

	f.addPackages(pkg)

	packages := f.snapshotPackages()
	id := packages[len(packages)-1].ID

	f.writeJSON(w, http.StatusCreated, jamf.HrefResponse{ID: id, Href: f.server.URL + "/api/v1/packages/" + id})
}

func (f *fakeJamf) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	for _, pkg := range f.snapshotPackages() {
		if pkg.ID == r.PathValue("id") {
			f.writeJSON(w, http.StatusOK, pkg)

			return
		}
	}

	f.writeError(w, http.StatusNotFound, "INVALID_ID", "Package not found")
}

func (f *fakeJamf) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, pkg := range f.packages {
		if pkg.ID == r.PathValue("id") {
			f.packages = append(f.packages[:i], f.packages[i+1:]...)
			w.WriteHeader(http.StatusNoContent)

			return
		}
	}

	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeJamf) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	f.writeJSON(w, http.StatusOK, jamf.TemporaryCredentials{
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		SessionToken:    "session",
		Region:          "us-west-2",
		BucketName:      "jcds-bucket",
		Path:            "tenant-123/",
		UUID:            "9c7b2f0e-0000-4000-8000-000000000000",
	})
}

func (f *fakeJamf) setFile(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[name] = data
}

func (f *fakeJamf) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	f.mu.Lock()
	_, ok := f.files[name]
	f.mu.Unlock()

	if !ok {
		f.writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found")

		return
	}

	f.writeJSON(w, http.StatusOK, jamf.DownloadURL{
		URI: f.server.URL + "/s3/" + url.PathEscape(name) + "?X-Amz-Signature=signature",
	})
}

// handleObject serves ranged reads like a signed S3 URL.
func (f *fakeJamf) handleObject(w http.ResponseWriter, r *http.Request) {
	assert.Empty(f.t, r.Header.Get("Authorization"), "signed URLs must not carry the bearer token")
	assert.Equal(f.t, "signature", r.URL.Query().Get("X-Amz-Signature"))

	f.mu.Lock()
	data, ok := f.files[r.PathValue("name")]

	rangeHeader := r.Header.Get("Range")
	if r.Method == http.MethodGet {
		f.rangeRequests = append(f.rangeRequests, rangeHeader)
	}

	failing := f.failRanges[rangeHeader] > 0
	if failing {
		f.failRanges[rangeHeader]--
	}

	delay := f.objectDelay
	f.mu.Unlock()

	if delay > 0 && r.Method == http.MethodGet {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if !ok {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	if failing {
		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	http.ServeContent(w, r, r.PathValue("name"), time.Time{}, bytes.NewReader(data))
}

func (f *fakeJamf) ranges() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.rangeRequests...)
}

func (f *fakeJamf) handleClassic(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		f.writeJSON(w, http.StatusOK, map[string]interface{}{
			"computer": map[string]interface{}{"general": map[string]interface{}{"id": 1, "name": "mac-01"}},
		})

		return
	}

	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.classicBodies = append(f.classicBodies, r.Header.Get("Content-Type")+" "+string(body))
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte("<computer><id>2</id></computer>"))
}

// fakeS3 stores uploads in memory.
type fakeS3 struct {
	mu sync.Mutex

	creds    []jamf.TemporaryCredentials
	objects  map[string][]byte
	parts    map[int32][]byte
	uploadID string

	completed    []types.CompletedPart
	aborted      int
	partCalls    atomic.Int32
	failPart     int32
	failComplete bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		parts:   make(map[int32][]byte),
	}
}

func (s *fakeS3) factory(ctx context.Context, creds jamf.TemporaryCredentials) (S3API, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = append(s.creds, creds)

	return s, nil
}

func (s *fakeS3) object(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.objects[key]
}

func (s *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)] = data

	return &s3.PutObjectOutput{ETag: aws.String(`"single"`)}, nil
}

func (s *fakeS3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploadID = "upload-1"

	return &s3.CreateMultipartUploadOutput{
		Bucket:   params.Bucket,
		Key:      params.Key,
		UploadId: aws.String(s.uploadID),
	}, nil
}

func (s *fakeS3) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	s.partCalls.Add(1)

	number := aws.ToInt32(params.PartNumber)
	if number == s.failPart {
		return nil, fmt.Errorf("%w: part %d", ErrTestPartRejected, number)
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.parts[number] = data

	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"etag-%d"`, number))}, nil
}

func (s *fakeS3) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if s.failComplete {
		return nil, ErrTestCompleteRejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = params.MultipartUpload.Parts

	var assembled []byte
	for _, part := range s.completed {
		assembled = append(assembled, s.parts[aws.ToInt32(part.PartNumber)]...)
	}

	s.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)] = assembled

	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (s *fakeS3) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aborted++

	return &s3.AbortMultipartUploadOutput{}, nil
}

// patternBytes returns n bytes that differ between neighbouring chunks.
func patternBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}

	return data
}
