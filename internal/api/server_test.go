package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	config "github.com/mwantia/imghost/internal/config/server"
	"github.com/mwantia/imghost/pkg/backup"
	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/log"
	"github.com/mwantia/imghost/pkg/metrics"
	"github.com/mwantia/imghost/pkg/reconcile"
	"github.com/mwantia/imghost/pkg/storage"
	"github.com/mwantia/imghost/pkg/storage/storagetest"
	"github.com/mwantia/imghost/pkg/transcode"
	"github.com/mwantia/imghost/pkg/upload"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cr3t"

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	server *Server
	holder *config.Holder
	store  *store.SQLiteStore
	local  *storage.Local
	remote *storagetest.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.GetServerDefault()
	cfg.API.Tokens = []config.APITokenConfig{
		{ID: "1", Name: "ci", Token: testToken},
		{ID: "2", Name: "old", Token: "expired", ExpiresAt: "2020-01-01T00:00:00Z"},
	}
	cfg.Image.PNGOptimize = false
	require.NoError(t, cfg.Validate())
	holder := config.NewHolder(&cfg)

	dir := t.TempDir()
	st, err := store.NewSQLiteStore(store.SQLiteConfig{Path: filepath.Join(dir, "images.db")})
	require.NoError(t, err)
	require.NoError(t, st.Connect(context.Background()))
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	local, err := storage.NewLocal(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	logger := log.NewNopLoggerService()
	m := metrics.New()
	remote := storagetest.NewMemory()
	selector := storage.NewSelector(local, remote, logger, m)

	return &fixture{
		holder: holder,
		store:  st,
		local:  local,
		remote: remote,
		server: &Server{
			Holder:     holder,
			Store:      st,
			Selector:   selector,
			Reconciler: reconcile.New(st, selector, logger, m),
			Uploads:    upload.NewService(st, selector, transcode.New(logger), logger, m),
			Archive:    backup.New(afero.NewMemMapFs(), "/data"),
			Metrics:    m,
			Log:        logger,
		},
	}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func authed(method, target string, body *bytes.Buffer) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	req.Header.Set(tokenHeader, testToken)
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.NRGBA{G: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartUpload builds an upload form with one png per name.
func multipartUpload(t *testing.T, fields map[string]string, names ...string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range names {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%s"`, name))
		header.Set("Content-Type", "image/png")
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(pngBytes(t))
		require.NoError(t, err)
	}
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (f *fixture) upload(t *testing.T, fields map[string]string, names ...string) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartUpload(t, fields, names...)
	req := authed(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	return f.do(t, req)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestTokenAuthentication(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", tokenHeader, "nope", http.StatusUnauthorized},
		{"expired", tokenHeader, "expired", http.StatusUnauthorized},
		{"header", tokenHeader, testToken, http.StatusOK},
		{"bearer", "Authorization", "Bearer " + testToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/storage-stats", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, f.do(t, req).Code)
		})
	}
}

func TestAPIDisabled(t *testing.T) {
	f := newFixture(t)

	cfg := f.holder.Current().Config
	cfg.API.Enabled = false
	f.holder.Swap(&cfg)

	rec := f.do(t, authed(http.MethodGet, "/api/storage-stats", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUploadAndServe(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, map[string]string{"storage": "local"}, "first.png", "second.png")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["uploaded"])

	images := body["images"].([]any)
	require.Len(t, images, 2)

	first := images[0].(map[string]any)
	path := first["path"].(string)
	assert.True(t, strings.HasPrefix(path, "api/"), path)
	assert.True(t, strings.HasSuffix(path, "001.png"), path)
	assert.Equal(t, "http://example.com/i/"+path, first["url"])
	assert.Equal(t, "local", first["storage"])

	served := f.do(t, httptest.NewRequest(http.MethodGet, "/i/"+path, nil))
	assert.Equal(t, http.StatusOK, served.Code)
	assert.Equal(t, "image/png", served.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes(t), served.Body.Bytes())
}

func TestUploadPicGo(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, map[string]string{"picgo": "true"}, "a.png")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode(t, rec)["result"].([]any)
	require.Len(t, result, 1)
	assert.True(t, strings.HasPrefix(result[0].(string), "http://example.com/i/api/"))
}

// uploadSequenced posts one png per sequence value, in order.
func (f *fixture) uploadSequenced(t *testing.T, sequences ...string) *httptest.ResponseRecorder {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for i := range sequences {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%d.png"`, i))
		header.Set("Content-Type", "image/png")
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(pngBytes(t))
		require.NoError(t, err)
	}
	for _, sequence := range sequences {
		require.NoError(t, writer.WriteField("sequence", sequence))
	}
	require.NoError(t, writer.Close())

	req := authed(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return f.do(t, req)
}

func TestUploadExplicitSequence(t *testing.T) {
	f := newFixture(t)

	rec := f.uploadSequenced(t, "2", "1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	images := decode(t, rec)["images"].([]any)
	assert.True(t, strings.HasSuffix(images[0].(map[string]any)["path"].(string), "002.png"))
	assert.True(t, strings.HasSuffix(images[1].(map[string]any)["path"].(string), "001.png"))
}

func TestUploadRejectsInvalidSequence(t *testing.T) {
	tests := []struct {
		name      string
		sequences []string
	}{
		{"four digits", []string{"1000", ""}},
		{"zero", []string{"0"}},
		{"not a number", []string{"first"}},
		{"repeated", []string{"3", "3"}},
		{"collides with derived tag", []string{"2", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rec := f.uploadSequenced(t, tt.sequences...)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			count, err := f.store.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestUploadForcedRemoteUnavailable(t *testing.T) {
	f := newFixture(t)
	f.remote.Healthy = false

	rec := f.upload(t, map[string]string{"storage": "remote"}, "a.png")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestUploadRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.upload(t, map[string]string{"format": "bmp"}, "a.png").Code)
	assert.Equal(t, http.StatusBadRequest, f.upload(t, map[string]string{"storage": "tape"}, "a.png").Code)
	assert.Equal(t, http.StatusBadRequest, f.upload(t, nil).Code)
}

func TestServeImageRejectsDirectoriesAndEscapes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.local.Put(context.Background(), "2024/01/01/a001.png", bytes.NewReader(pngBytes(t)), 0, storage.PutOptions{}))

	for _, target := range []string{"/i/2024/01/01", "/i/2024/01/01/", "/i/../images.db", "/i/2024/01/01/missing.png"} {
		rec := f.do(t, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestPagedListingIncludesOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, key := range []string{"2024/01/01/a001.png", "2024/01/01/b001.png"} {
		require.NoError(t, f.local.Put(ctx, key, bytes.NewReader(pngBytes(t)), 0, storage.PutOptions{}))
		_, err := f.store.Insert(ctx, &models.Image{
			Filename: filepath.Base(key), Path: key, UploadTime: now.Add(time.Duration(i) * time.Second),
			Storage: models.StorageLocal, Format: "png",
		})
		require.NoError(t, err)
	}
	require.NoError(t, f.local.Put(ctx, "2024/01/01/c001.png", bytes.NewReader(pngBytes(t)), 0, storage.PutOptions{}))

	rec := f.do(t, authed(http.MethodGet, "/api/images/paged?page=1&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Len(t, body["images"], 3)
	pagination := body["pagination"].(map[string]any)
	assert.Equal(t, float64(3), pagination["total"])
	assert.Equal(t, float64(1), pagination["totalPages"])
	assert.Equal(t, float64(10), pagination["limit"])

	rec = f.do(t, authed(http.MethodGet, "/api/images/paged?page=99&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Empty(t, body["images"])
	assert.Equal(t, float64(3), body["pagination"].(map[string]any)["total"])

	rec = f.do(t, authed(http.MethodGet, "/api/images/paged?storage=floppy", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, authed(http.MethodGet, "/api/images?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteTwiceSucceeds(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, map[string]string{"storage": "local"}, "a.png")
	require.Equal(t, http.StatusOK, rec.Code)
	path := decode(t, rec)["images"].([]any)[0].(map[string]any)["path"].(string)

	payload := fmt.Sprintf(`{"images":[{"storage":"local","path":%q}]}`, path)
	for range 2 {
		req := authed(http.MethodPost, "/api/images/delete", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := f.do(t, req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, decode(t, rec)["success"])
	}

	exists, err := f.local.Exists(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, exists)

	bad := authed(http.MethodPost, "/api/images/delete", bytes.NewBufferString(`{"nope":true}`))
	bad.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, f.do(t, bad).Code)
}

func TestMigrateStatsAndStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.local.Put(context.Background(), "2024/01/01/c001.png", bytes.NewReader(pngBytes(t)), 0, storage.PutOptions{}))

	status := decode(t, f.do(t, authed(http.MethodGet, "/api/system-status", nil)))["status"].(map[string]any)
	assert.Equal(t, float64(1), status["needMigrationCount"])
	assert.Equal(t, float64(0), status["dbImageCount"])

	stats := decode(t, f.do(t, authed(http.MethodGet, "/api/storage-stats", nil)))["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["local"])

	migrated := decode(t, f.do(t, authed(http.MethodPost, "/api/images/migrate", nil)))
	assert.Equal(t, float64(1), migrated["migratedCount"])
	assert.Equal(t, float64(0), migrated["errorCount"])

	status = decode(t, f.do(t, authed(http.MethodGet, "/api/system-status", nil)))["status"].(map[string]any)
	assert.Equal(t, float64(0), status["needMigrationCount"])
	assert.Equal(t, float64(1), status["dbImageCount"])
}

func TestExportImportAndBackup(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.upload(t, nil, "a.png", "b.png").Code)

	exported := f.do(t, authed(http.MethodGet, "/api/export", nil))
	require.Equal(t, http.StatusOK, exported.Code)
	assert.Contains(t, exported.Header().Get("Content-Disposition"), "images_backup_")

	other := newFixture(t)
	rec := other.do(t, authed(http.MethodPost, "/api/import", bytes.NewBuffer(exported.Body.Bytes())))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["imported"])
	assert.Equal(t, float64(0), body["errors"])

	rec = other.do(t, authed(http.MethodPost, "/api/import", bytes.NewBuffer(exported.Body.Bytes())))
	assert.Equal(t, float64(2), decode(t, rec)["skipped"])

	rec = f.do(t, authed(http.MethodPost, "/api/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	name := decode(t, rec)["backupPath"].(string)

	rec = other.do(t, authed(http.MethodPost, "/api/import", bytes.NewBufferString("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, authed(http.MethodPost, "/api/import?file="+name, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["skipped"])
}

func TestTestRemote(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, authed(http.MethodPost, "/api/test-remote", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	f.remote.Healthy = false
	rec = f.do(t, authed(http.MethodPost, "/api/test-remote", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoversFromPanics(t *testing.T) {
	f := newFixture(t)

	engine := f.server.Handler().(*gin.Engine)
	engine.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.HTTPServerConfig
		headers map[string]string
		want    string
	}{
		{"request host", config.HTTPServerConfig{}, nil, "http://example.com"},
		{"public url", config.HTTPServerConfig{PublicURL: "https://img.example.org/"}, nil, "https://img.example.org"},
		{"forwarded proto", config.HTTPServerConfig{TrustForwards: true}, map[string]string{"X-Forwarded-Proto": "https, http"}, "https://example.com"},
		{"forwarded ssl", config.HTTPServerConfig{TrustForwards: true}, map[string]string{"X-Forwarded-Ssl": "on"}, "https://example.com"},
		{"forwarded scheme", config.HTTPServerConfig{TrustForwards: true}, map[string]string{"X-Forwarded-Scheme": "HTTPS"}, "https://example.com"},
		{"cloudflare", config.HTTPServerConfig{TrustForwards: true}, map[string]string{"CF-Visitor": `{"scheme":"https"}`}, "https://example.com"},
		{"forwarded host", config.HTTPServerConfig{TrustForwards: true}, map[string]string{"X-Forwarded-Host": "cdn.example.net"}, "http://cdn.example.net"},
		{"untrusted", config.HTTPServerConfig{}, map[string]string{"X-Forwarded-Proto": "https"}, "http://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			for key, value := range tt.headers {
				c.Request.Header.Set(key, value)
			}
			assert.Equal(t, tt.want, baseURL(c, tt.cfg))
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("insert: %w", store.ErrConstraintViolation)))
	assert.Equal(t, http.StatusNotFound, statusFor(store.ErrNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(storage.ErrBackendUnavailable))
	assert.Equal(t, http.StatusBadGateway, statusFor(storage.ErrTransientBackend))
	assert.Equal(t, http.StatusBadRequest, statusFor(upload.ErrContentType))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(upload.ErrTooLarge))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk on fire")))
}
