package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cliplink/cliplink/internal/acquire"
	"github.com/cliplink/cliplink/internal/metrics"
	"github.com/cliplink/cliplink/internal/timecode"
	"github.com/cliplink/cliplink/internal/tools"
)

// fakeYtdlp emulates yt-dlp for the real acquisition strategies by writing
// files at the "-o" template.
type fakeYtdlp struct {
	ext string
	err error
}

func (f *fakeYtdlp) Run(ctx context.Context, c tools.Command) (tools.Result, error) {
	for i, a := range c.Args {
		if a == "-o" && i+1 < len(c.Args) {
			base := strings.TrimSuffix(c.Args[i+1], ".%(ext)s")
			ext := f.ext
			if ext == "" {
				ext = ".mp4"
			}
			if f.err != nil {
				ext += ".part"
			}
			os.WriteFile(base+ext, []byte("source media"), 0644)
		}
	}
	if f.err != nil {
		return tools.Result{ExitCode: 1}, f.err
	}
	return tools.Result{}, nil
}

// fakeFFmpeg writes placeholder files and reports the extracted duration
// back from Probe, like a real cut would.
type fakeFFmpeg struct {
	mu sync.Mutex

	sourceDuration float64 // length of the acquired media; 0 means unbounded

	extractErr   error
	extractPanic bool
	thumbPanic   bool
	thumbErr     error
	probeErr     error
	transcodeErr error

	extractCalls []extractCall
	durations    map[string]float64
}

type extractCall struct {
	input    string
	offset   float64
	duration float64
}

func (f *fakeFFmpeg) Extract(ctx context.Context, input string, offset, duration float64, output string) error {
	f.mu.Lock()
	f.extractCalls = append(f.extractCalls, extractCall{input, offset, duration})
	f.mu.Unlock()

	if f.extractPanic {
		os.WriteFile(output, []byte("clip"), 0644)
		panic("ffmpeg exploded")
	}
	if f.extractErr != nil {
		os.WriteFile(output, []byte("half"), 0644)
		return f.extractErr
	}

	got := duration
	if f.sourceDuration > 0 && offset+duration > f.sourceDuration {
		got = f.sourceDuration - offset
	}
	f.mu.Lock()
	if f.durations == nil {
		f.durations = make(map[string]float64)
	}
	f.durations[output] = got
	f.mu.Unlock()
	return os.WriteFile(output, []byte("clip"), 0644)
}

func (f *fakeFFmpeg) Thumbnail(ctx context.Context, input, output string) error {
	if f.thumbPanic {
		os.WriteFile(output, []byte("jp"), 0644)
		panic("thumbnail exploded")
	}
	if f.thumbErr != nil {
		os.WriteFile(output, nil, 0644)
		return f.thumbErr
	}
	return os.WriteFile(output, []byte("jpg"), 0644)
}

func (f *fakeFFmpeg) Probe(ctx context.Context, input string) (*ProbeResult, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	f.mu.Lock()
	d := f.durations[input]
	f.mu.Unlock()
	return &ProbeResult{Duration: d, Width: 1280, Height: 720}, nil
}

func (f *fakeFFmpeg) Transcode(ctx context.Context, input, output string) error {
	if f.transcodeErr != nil {
		os.WriteFile(output, []byte("partial"), 0644)
		return f.transcodeErr
	}
	return os.WriteFile(output, []byte("transcoded"), 0644)
}

type testEnv struct {
	pipeline *Pipeline
	ffmpeg   *fakeFFmpeg
	ytdlp    *fakeYtdlp
	tempDir  string
	cfg      Config
}

func newTestEnv(t *testing.T, strategies ...func(acquire.Options) acquire.Strategy) *testEnv {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		ClipsDir:      filepath.Join(root, "clips"),
		ThumbnailsDir: filepath.Join(root, "thumbnails"),
		UploadsDir:    filepath.Join(root, "uploads"),
		MaxConcurrent: 2,
	}
	env := &testEnv{ffmpeg: &fakeFFmpeg{}, ytdlp: &fakeYtdlp{}, tempDir: filepath.Join(root, "tmp"), cfg: cfg}

	opts := acquire.Options{Runner: env.ytdlp, TempDir: env.tempDir}
	selector, err := acquire.NewSelector(acquire.NameSection, nil,
		acquire.NewSectionStrategy(opts),
		acquire.NewFullStrategy(opts),
		acquire.NewStreamStrategy(opts),
	)
	if err != nil {
		t.Fatal(err)
	}

	env.pipeline = New(cfg, selector, env.ffmpeg, metrics.New("test", "test"), nil)
	if err := env.pipeline.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e *testEnv) assertTempEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		var names []string
		for _, en := range entries {
			names = append(names, en.Name())
		}
		t.Errorf("temp files left behind: %v", names)
	}
}

func request(id string) Request {
	return Request{
		SourceURL:       "https://example.com/watch?v=abc",
		Start:           timecode.Value{Raw: "0:10"},
		DurationSeconds: 30,
		ClipID:          id,
	}
}

func TestClampDuration(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{30, 30},
		{59, 59},
		{1000, 59},
		{0, 59},
		{-5, 59},
		{0.5, 0.5},
	}
	for _, tt := range tests {
		if got := ClampDuration(tt.in); got != tt.want {
			t.Errorf("ClampDuration(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCreateClip_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.ffmpeg.sourceDuration = 120

	art, err := env.pipeline.CreateClip(context.Background(), request("clip1"))
	if err != nil {
		t.Fatalf("CreateClip: %v", err)
	}
	if art.DurationSeconds < 29.5 || art.DurationSeconds > 30.5 {
		t.Errorf("duration = %v, want ~30", art.DurationSeconds)
	}
	if art.FilePath != env.pipeline.ClipPath("clip1") {
		t.Errorf("FilePath = %q", art.FilePath)
	}
	if art.ThumbnailPath != env.pipeline.ThumbnailPath("clip1") {
		t.Errorf("ThumbnailPath = %q", art.ThumbnailPath)
	}
	if art.Width != 1280 || art.Height != 720 {
		t.Errorf("dimensions = %dx%d", art.Width, art.Height)
	}
	if art.Strategy != acquire.NameSection {
		t.Errorf("Strategy = %q", art.Strategy)
	}

	call := env.ffmpeg.extractCalls[0]
	// Section download starts 2s before the requested start.
	if call.offset != 2 {
		t.Errorf("extract offset = %v, want 2", call.offset)
	}
	for _, f := range art.Files() {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("artifact file missing: %v", err)
		}
	}
	env.assertTempEmpty(t)
}

func TestCreateClip_ClampsDuration(t *testing.T) {
	env := newTestEnv(t)
	req := request("long")
	req.DurationSeconds = 1000

	art, err := env.pipeline.CreateClip(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got := env.ffmpeg.extractCalls[0].duration; got != MaxClipDuration {
		t.Errorf("extract duration = %v, want %v", got, MaxClipDuration)
	}
	if art.DurationSeconds > MaxClipDuration {
		t.Errorf("artifact duration = %v", art.DurationSeconds)
	}
}

func TestCreateClip_FullStrategyOffset(t *testing.T) {
	env := newTestEnv(t)
	req := request("full1")
	req.Strategy = acquire.NameFull

	if _, err := env.pipeline.CreateClip(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if got := env.ffmpeg.extractCalls[0].offset; got != 10 {
		t.Errorf("extract offset = %v, want 10", got)
	}
	env.assertTempEmpty(t)
}

func TestCreateClip_AcquisitionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ytdlp.err = &tools.Error{Kind: tools.KindTimeout, Tool: "yt-dlp", Op: "acquire.section"}

	_, err := env.pipeline.CreateClip(context.Background(), request("acqfail"))
	if !errors.Is(err, tools.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if len(env.ffmpeg.extractCalls) != 0 {
		t.Error("extract ran after failed acquisition")
	}
	env.assertTempEmpty(t)
	if _, err := os.Stat(env.pipeline.ClipPath("acqfail")); !os.IsNotExist(err) {
		t.Error("clip file exists after acquisition failure")
	}
}

func TestCreateClip_ExtractionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ffmpeg.extractErr = &tools.Error{Kind: tools.KindNonZeroExit, Tool: "ffmpeg", Op: "extract", ExitCode: 1}

	_, err := env.pipeline.CreateClip(context.Background(), request("exfail"))
	if !errors.Is(err, tools.ErrProcessFailed) {
		t.Fatalf("err = %v, want ErrProcessFailed", err)
	}
	env.assertTempEmpty(t)
	if _, err := os.Stat(env.pipeline.ClipPath("exfail")); !os.IsNotExist(err) {
		t.Error("half-written clip left behind")
	}
}

func TestCreateClip_PanicStillReleases(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*fakeFFmpeg)
	}{
		{"extract", func(f *fakeFFmpeg) { f.extractPanic = true }},
		{"thumbnail", func(f *fakeFFmpeg) { f.thumbPanic = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.inject(env.ffmpeg)

			func() {
				defer func() {
					if recover() == nil {
						t.Fatal("expected panic to propagate")
					}
				}()
				env.pipeline.CreateClip(context.Background(), request("panic"))
			}()

			env.assertTempEmpty(t)
			if env.pipeline.InFlight("panic") {
				t.Error("in-flight guard not released after panic")
			}
			for _, dir := range []string{env.cfg.ClipsDir, env.cfg.ThumbnailsDir} {
				entries, err := os.ReadDir(dir)
				if err != nil {
					t.Fatal(err)
				}
				if len(entries) != 0 {
					t.Errorf("%s holds %d files after panic", filepath.Base(dir), len(entries))
				}
			}
		})
	}
}

func TestCreateClip_ThumbnailFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	env.ffmpeg.thumbErr = tools.NoOutput("ffmpeg", "thumbnail", errors.New("clip too short"))

	art, err := env.pipeline.CreateClip(context.Background(), request("nothumb"))
	if err != nil {
		t.Fatalf("CreateClip: %v", err)
	}
	if art.ThumbnailPath != "" {
		t.Errorf("ThumbnailPath = %q, want empty", art.ThumbnailPath)
	}
	if _, err := os.Stat(env.pipeline.ThumbnailPath("nothumb")); !os.IsNotExist(err) {
		t.Error("partial thumbnail left behind")
	}
	env.assertTempEmpty(t)
}

func TestCreateClip_ShortClipDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.ffmpeg.thumbErr = tools.NoOutput("ffmpeg", "thumbnail", errors.New("no frame"))
	env.ffmpeg.probeErr = &tools.Error{Kind: tools.KindNonZeroExit, Tool: "ffprobe", Op: "probe", ExitCode: 1}
	req := request("short")
	req.DurationSeconds = 0.5

	art, err := env.pipeline.CreateClip(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateClip: %v", err)
	}
	if art.ThumbnailPath != "" {
		t.Errorf("ThumbnailPath = %q, want empty", art.ThumbnailPath)
	}
	if art.Width != DefaultWidth || art.Height != DefaultHeight {
		t.Errorf("dimensions = %dx%d, want defaults", art.Width, art.Height)
	}
	if art.DurationSeconds != 0.5 {
		t.Errorf("duration = %v, want requested 0.5", art.DurationSeconds)
	}
}

func TestCreateClip_ProbeZeroDurationFallsBack(t *testing.T) {
	env := newTestEnv(t)
	env.ffmpeg.sourceDuration = 10 // offset 2 + 30 overruns; reported duration would be 8
	art, err := env.pipeline.CreateClip(context.Background(), request("shortsrc"))
	if err != nil {
		t.Fatal(err)
	}
	if art.DurationSeconds != 8 {
		t.Errorf("duration = %v, want probed 8", art.DurationSeconds)
	}

	env.ffmpeg.sourceDuration = 2 // nothing left after the offset
	art, err = env.pipeline.CreateClip(context.Background(), request("emptysrc"))
	if err != nil {
		t.Fatal(err)
	}
	if art.DurationSeconds != 30 {
		t.Errorf("duration = %v, want fallback 30", art.DurationSeconds)
	}
}

func TestCreateClip_InvalidRequests(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		mod  func(*Request)
	}{
		{"empty id", func(r *Request) { r.ClipID = "" }},
		{"path traversal id", func(r *Request) { r.ClipID = "../etc" }},
		{"relative url", func(r *Request) { r.SourceURL = "/watch?v=1" }},
		{"file url", func(r *Request) { r.SourceURL = "file:///etc/passwd" }},
		{"unknown strategy", func(r *Request) { r.Strategy = "torrent" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("valid")
			tt.mod(&req)
			if _, err := env.pipeline.CreateClip(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if len(env.ffmpeg.extractCalls) != 0 {
		t.Error("invalid requests reached extraction")
	}
}

// blockingStrategy parks Acquire until released so tests can hold a run open.
type blockingStrategy struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingStrategy) Name() string { return "blocking" }

func (b *blockingStrategy) Acquire(ctx context.Context, sourceURL string, w acquire.Window) (*acquire.Acquisition, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return &acquire.Acquisition{StreamURL: "https://cdn.example.com/v.mp4", Offset: w.Start}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newBlockingPipeline(t *testing.T, maxConcurrent int) (*Pipeline, *blockingStrategy) {
	t.Helper()
	root := t.TempDir()
	b := &blockingStrategy{started: make(chan struct{}, 8), release: make(chan struct{})}
	selector, err := acquire.NewSelector("blocking", nil, b)
	if err != nil {
		t.Fatal(err)
	}
	p := New(Config{
		ClipsDir:      filepath.Join(root, "clips"),
		ThumbnailsDir: filepath.Join(root, "thumbnails"),
		MaxConcurrent: maxConcurrent,
	}, selector, &fakeFFmpeg{}, nil, nil)
	if err := p.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	return p, b
}

func TestCreateClip_DuplicateInFlight(t *testing.T) {
	p, b := newBlockingPipeline(t, 2)

	errc := make(chan error, 1)
	go func() {
		_, err := p.CreateClip(context.Background(), request("dup"))
		errc <- err
	}()
	<-b.started

	if _, err := p.CreateClip(context.Background(), request("dup")); !errors.Is(err, ErrClipInProgress) {
		t.Errorf("second run err = %v, want ErrClipInProgress", err)
	}

	close(b.release)
	if err := <-errc; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if p.InFlight("dup") {
		t.Error("guard still held after completion")
	}
}

func TestCreateClip_ConcurrencyLimitHonoursCancel(t *testing.T) {
	p, b := newBlockingPipeline(t, 1)

	errc := make(chan error, 1)
	go func() {
		_, err := p.CreateClip(context.Background(), request("first"))
		errc <- err
	}()
	<-b.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.CreateClip(ctx, request("second"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("queued run err = %v, want DeadlineExceeded", err)
	}
	if p.InFlight("second") {
		t.Error("guard held by a run that never started")
	}

	close(b.release)
	if err := <-errc; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestCreateClip_StreamStrategy(t *testing.T) {
	p, b := newBlockingPipeline(t, 1)
	close(b.release)

	go func() { <-b.started }()
	art, err := p.CreateClip(context.Background(), request("stream"))
	if err != nil {
		t.Fatal(err)
	}
	if art.Strategy != "blocking" {
		t.Errorf("Strategy = %q", art.Strategy)
	}
	ff := p.ffmpeg.(*fakeFFmpeg)
	if ff.extractCalls[0].input != "https://cdn.example.com/v.mp4" || ff.extractCalls[0].offset != 10 {
		t.Errorf("extract call = %+v", ff.extractCalls[0])
	}
}

func TestArtifact_Remove(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "a.mp4")
	os.WriteFile(clip, []byte("x"), 0644)
	art := &Artifact{FilePath: clip, ThumbnailPath: filepath.Join(dir, "missing.jpg")}
	if err := art.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(clip); !os.IsNotExist(err) {
		t.Error("clip not removed")
	}
}
