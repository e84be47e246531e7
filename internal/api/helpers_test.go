package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cliplink/cliplink/internal/db"
	"github.com/cliplink/cliplink/internal/library"
	"github.com/cliplink/cliplink/internal/metrics"
	"github.com/cliplink/cliplink/internal/pipeline"
	"github.com/cliplink/cliplink/internal/playback"
	"github.com/cliplink/cliplink/internal/tools"
)

const testBaseURL = "https://clips.example.com"

// clipSize is the byte length of every clip the fake pipeline writes.
const clipSize = 1000

type fakePipeline struct {
	dir string
	err error

	// When started is set, CreateClip closes it and blocks until ctx ends,
	// closing cancelled on the way out.
	started   chan struct{}
	cancelled chan struct{}
}

func (f *fakePipeline) CreateClip(ctx context.Context, req pipeline.Request) (*pipeline.Artifact, error) {
	if f.started != nil {
		close(f.started)
		<-ctx.Done()
		close(f.cancelled)
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	data := make([]byte, clipSize)
	for i := range data {
		data[i] = byte(i % 256)
	}
	art := &pipeline.Artifact{
		FilePath:        filepath.Join(f.dir, req.ClipID+".mp4"),
		ThumbnailPath:   filepath.Join(f.dir, req.ClipID+".jpg"),
		Width:           1280,
		Height:          720,
		DurationSeconds: pipeline.ClampDuration(req.DurationSeconds),
	}
	if err := os.WriteFile(art.FilePath, data, 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(art.ThumbnailPath, []byte("jpeg"), 0o644); err != nil {
		return nil, err
	}
	return art, nil
}

func (f *fakePipeline) ProcessUpload(ctx context.Context, id, inputPath string) (*pipeline.Artifact, error) {
	out := filepath.Join(f.dir, id+".mp4")
	if err := os.Rename(inputPath, out); err != nil {
		return nil, err
	}
	return &pipeline.Artifact{FilePath: out, Width: 1920, Height: 1080}, nil
}

type fakeProber struct {
	caps *tools.Capabilities
}

func (f *fakeProber) Probe(ctx context.Context) (*tools.Capabilities, error) {
	return f.caps, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type testEnv struct {
	cfg      ServerConfig
	handler  http.Handler
	lib      *library.Service
	pipeline *fakePipeline
	metrics  *metrics.Collector
}

func newTestEnv(t *testing.T, mutate ...func(*ServerConfig)) *testEnv {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	p := &fakePipeline{dir: t.TempDir()}
	lib := library.NewService(library.NewRepository(database.Conn()), p, nil, t.TempDir(), nil)
	m := metrics.New("test", "abc123")

	cfg := ServerConfig{
		BaseURL:        testBaseURL + "/",
		UploadMaxBytes: 1 << 20,
		Library:        lib,
		Playback:       playback.NewServer(nil),
		Metrics:        m,
		DB:             database,
		Strategies:     []string{"full", "section", "stream"},
		Default:        "section",
		StartTime:      time.Now().Add(-time.Minute),
		Version:        "test",
		InstanceID:     "inst-1",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	return &testEnv{cfg: cfg, handler: NewRouter(cfg), lib: lib, pipeline: p, metrics: m}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) createClip(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/clips", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

// mustCreateClip creates a clip and returns its id.
func (e *testEnv) mustCreateClip(t *testing.T) string {
	t.Helper()
	rr := e.createClip(t, `{"url":"https://videos.example.com/watch?v=1","startTime":"0:10","duration":30,"title":"Clip"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create clip status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp CreatedResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.ID
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if body["code"] != code {
		t.Errorf("code = %v, want %s", body["code"], code)
	}
}
