package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/libops/relocation/internal/blobstore"
	"github.com/libops/relocation/internal/config"
	"github.com/libops/relocation/internal/kms"
	"github.com/libops/relocation/internal/orchestrator"
	"github.com/libops/relocation/internal/relocation"
	"github.com/libops/relocation/internal/testutils"
)

type fixture struct {
	calls   int
	store   *testutils.MemoryStore
	kms     *kms.Local
	handler http.Handler
}

func newFixture(t *testing.T, maxUpload int64) *fixture {
	t.Helper()
	store := testutils.NewMemoryStore()
	svc := testutils.NewLocalKMS(t)
	o := orchestrator.New(orchestrator.Deps{
		Store:    store,
		Bucket:   blobstore.NewMemory("relocation-test"),
		KMS:      svc,
		Builds:   &testutils.FakeBuilds{},
		Engine:   testutils.NewFakeEngine(store, nil),
		Notifier: &testutils.RecordingNotifier{},
	}, orchestrator.Config{PipelineConfig: config.DefaultPipelineConfig()})

	return &fixture{
		store: store,
		kms:   svc,
		handler: New(&Dependencies{
			Relocations:    o,
			AllowedOrigins: []string{"*"},
			MaxUploadBytes: maxUpload,
		}),
	}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	// A fresh client per call keeps the upload limiter out of the way.
	f.calls++
	req.RemoteAddr = fmt.Sprintf("192.0.2.%d:41000", f.calls)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

// uploadRequest builds a multipart upload; empty values are left out.
func uploadRequest(t *testing.T, fields map[string]string, archive []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if v != "" {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	if archive != nil {
		part, err := mw.CreateFormFile("file", "export.tar")
		require.NoError(t, err)
		_, err = part.Write(archive)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/relocations", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	w := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	w := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublicKeyEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	w := f.do(httptest.NewRequest(http.MethodGet, "/relocations/public-key", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-pem-file", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "-----BEGIN PUBLIC KEY-----"))
}

func TestUploadEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	sealed := testutils.SealExport(t, f.kms, testutils.ExportModels(t, []string{"alice"}, []string{"acme", "beta"}))

	w := f.do(uploadRequest(t, map[string]string{
		"owner_id":   "1",
		"creator_id": "2",
		"orgs":       "acme, beta",
	}, sealed))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got relocationView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "/relocations/"+got.UUID, w.Header().Get("Location"))
	assert.Equal(t, []string{"acme", "beta"}, got.WantOrgSlugs)
	assert.Equal(t, string(relocation.StatusInProgress), got.Status)
	assert.Equal(t, relocation.TaskUploadingComplete.String(), got.LatestTask)

	queued := f.store.Queue()
	require.Len(t, queued, 1)
	assert.Equal(t, got.UUID, queued[0].RelocationUUID.String())
}

func TestUploadEndpoint_Rejects(t *testing.T) {
	f := newFixture(t, 0)
	sealed := testutils.SealExport(t, f.kms, testutils.ExportModels(t, []string{"alice"}, []string{"acme"}))
	valid := func() map[string]string {
		return map[string]string{"owner_id": "1", "creator_id": "2", "orgs": "acme"}
	}

	tests := []struct {
		name    string
		mutate  func(map[string]string)
		archive []byte
	}{
		{name: "missing owner", mutate: func(m map[string]string) { delete(m, "owner_id") }, archive: sealed},
		{name: "bad creator", mutate: func(m map[string]string) { m["creator_id"] = "-3" }, archive: sealed},
		{name: "no orgs", mutate: func(m map[string]string) { m["orgs"] = " , " }, archive: sealed},
		{name: "missing file", mutate: func(map[string]string) {}},
		{name: "not an archive", mutate: func(map[string]string) {}, archive: []byte("plain json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := valid()
			tt.mutate(fields)
			w := f.do(uploadRequest(t, fields, tt.archive))
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/relocations", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
	})

	assert.Empty(t, f.store.Queue())
}

func TestUploadEndpoint_TooLarge(t *testing.T) {
	f := newFixture(t, 1024)
	w := f.do(uploadRequest(t, map[string]string{"owner_id": "1", "creator_id": "1", "orgs": "acme"}, bytes.Repeat([]byte("x"), 4096)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestGetEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	r := &relocation.Relocation{
		UUID:          uuid.New(),
		CreatorID:     2,
		OwnerID:       1,
		WantOrgSlugs:  []string{"acme"},
		Step:          relocation.StepPreprocessing,
		Status:        relocation.StatusFailure,
		LatestTask:    relocation.TaskPreprocessingScan,
		FailureReason: relocation.ErrPreprocessingNoOrgs,
		CreatedAt:     time.Now(),
	}
	f.store.Put(r)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "found", path: "/relocations/" + r.UUID.String(), want: http.StatusOK},
		{name: "unknown", path: "/relocations/" + uuid.NewString(), want: http.StatusNotFound},
		{name: "malformed", path: "/relocations/not-a-uuid", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}

	w := f.do(httptest.NewRequest(http.MethodGet, "/relocations/"+r.UUID.String(), nil))
	var got relocationView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "FAILURE", got.Status)
	assert.Equal(t, "PREPROCESSING", got.Step)
	assert.Equal(t, relocation.ErrPreprocessingNoOrgs, got.FailureReason)
}

func TestListEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	for range 3 {
		f.store.Put(&relocation.Relocation{UUID: uuid.New(), Status: relocation.StatusInProgress})
	}

	w := f.do(httptest.NewRequest(http.MethodGet, "/relocations?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Relocations []relocationView `json:"relocations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got.Relocations, 2)

	assert.Equal(t, http.StatusBadRequest, f.do(httptest.NewRequest(http.MethodGet, "/relocations?limit=zero", nil)).Code)
}

func TestRateLimiter_LimitByIP(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 1)
	handler := rl.LimitByIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/relocations", nil).WithContext(context.Background())
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("192.0.2.1:1000", ""))
	assert.Equal(t, http.StatusTooManyRequests, call("192.0.2.1:1001", ""))
	assert.Equal(t, http.StatusOK, call("192.0.2.2:1000", ""), "other clients are unaffected")
	assert.Equal(t, http.StatusOK, call("10.0.0.1:80", "198.51.100.7, 10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.2:80", "198.51.100.7"))
	assert.Equal(t, http.StatusInternalServerError, call("garbage", ""))
}
