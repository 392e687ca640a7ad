package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yourusername/notepilot/internal/jobs"
)

type fakeRasterizer struct {
	pages int
	err   error
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, documentPath, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var images []string
	for i := 1; i <= f.pages; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("page_%d.jpg", i))
		if err := os.WriteFile(p, []byte("jpeg"), 0o644); err != nil {
			return nil, err
		}
		images = append(images, p)
	}
	return images, f.err
}

type fakeExtractor struct {
	text    string
	err     error
	// failing はセッションIDごとに返すエラーです（ページ画像のディレクトリ名で判定）。
	failing map[string]error
}

func (f *fakeExtractor) Extract(ctx context.Context, images []string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if len(images) > 0 {
		if err, ok := f.failing[filepath.Base(filepath.Dir(images[0]))]; ok {
			return "", err
		}
	}
	if f.text != "" {
		return f.text, nil
	}
	names := make([]string, 0, len(images))
	for _, img := range images {
		names = append(names, filepath.Base(img))
	}
	return strings.Join(names, "\n"), nil
}

type fakeTransformer struct {
	err error
}

func (f *fakeTransformer) Transform(ctx context.Context, text, formatMode string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("notes[%s]: %s", formatMode, text), nil
}

type memoryArtifacts struct {
	mu    sync.Mutex
	saved map[string]string
	err   error
}

func (m *memoryArtifacts) Save(ctx context.Context, sessionID, text string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]string)
	}
	m.saved[sessionID] = text
	return "mem://" + sessionID + "/output.txt", nil
}

type fixture struct {
	registry    *jobs.MemoryRegistry
	rasterizer  *fakeRasterizer
	extractor   *fakeExtractor
	transformer *fakeTransformer
	artifacts   *memoryArtifacts
	imagesDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		registry:    jobs.NewMemoryRegistry(0),
		rasterizer:  &fakeRasterizer{pages: 2},
		extractor:   &fakeExtractor{},
		transformer: &fakeTransformer{},
		artifacts:   &memoryArtifacts{},
		imagesDir:   t.TempDir(),
	}
}

func (f *fixture) orchestrator(t *testing.T, cleanupOnFailure bool) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Registry:         f.registry,
		Rasterizer:       f.rasterizer,
		Extractor:        f.extractor,
		Transformer:      f.transformer,
		Artifacts:        f.artifacts,
		ImagesDir:        f.imagesDir,
		CleanupOnFailure: cleanupOnFailure,
		Logger:           zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return o
}

func (f *fixture) submit(t *testing.T, id, mode string) jobs.Task {
	t.Helper()
	if err := f.registry.Create(context.Background(), id, mode); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return jobs.Task{SessionID: id, DocumentPath: "/uploads/" + id + "_doc.pdf", FormatMode: mode}
}

func (f *fixture) record(t *testing.T, id string) *jobs.Record {
	t.Helper()
	rec, err := f.registry.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	return rec
}

func TestRunCompletesSession(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, false)
	task := f.submit(t, "s1", "2")

	o.Run(context.Background(), task)

	rec := f.record(t, "s1")
	if rec.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed (error=%q)", rec.Status, rec.ErrorMessage)
	}
	if rec.ResultPath != "mem://s1/output.txt" {
		t.Fatalf("unexpected result path: %q", rec.ResultPath)
	}
	if rec.CurrentStep != "" || rec.ErrorMessage != "" {
		t.Fatalf("unexpected step/error on completed record: %+v", rec)
	}
	want := "notes[2]: page_1.jpg\npage_2.jpg"
	if got := f.artifacts.saved["s1"]; got != want {
		t.Fatalf("saved artifact = %q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(f.imagesDir, "s1")); !os.IsNotExist(err) {
		t.Fatalf("page images should be removed after success, stat err = %v", err)
	}
}

func TestRunFailsWhenNoTextExtracted(t *testing.T) {
	f := newFixture(t)
	f.extractor.text = " \n\t "
	o := f.orchestrator(t, false)
	task := f.submit(t, "blank", "1")

	o.Run(context.Background(), task)

	rec := f.record(t, "blank")
	if rec.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want error", rec.Status)
	}
	if rec.ErrorMessage != ErrNoTextExtracted.Error() {
		t.Fatalf("unexpected error message: %q", rec.ErrorMessage)
	}
	if len(f.artifacts.saved) != 0 {
		t.Fatalf("artifact should not be saved: %#v", f.artifacts.saved)
	}
}

func TestRunGenerationFailureLeavesNoArtifact(t *testing.T) {
	f := newFixture(t)
	f.transformer.err = errors.New("chunk 2/3: quota exceeded")
	o := f.orchestrator(t, false)
	task := f.submit(t, "gen", "1")

	o.Run(context.Background(), task)

	rec := f.record(t, "gen")
	if rec.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want error", rec.Status)
	}
	if !strings.HasPrefix(rec.ErrorMessage, ErrGenerate.Error()) || !strings.Contains(rec.ErrorMessage, "quota exceeded") {
		t.Fatalf("unexpected error message: %q", rec.ErrorMessage)
	}
	if rec.ResultPath != "" {
		t.Fatalf("failed record must not carry a result path: %q", rec.ResultPath)
	}
	if len(f.artifacts.saved) != 0 {
		t.Fatalf("artifact should not be saved: %#v", f.artifacts.saved)
	}
}

func TestRunSaveFailure(t *testing.T) {
	f := newFixture(t)
	f.artifacts.err = errors.New("disk full")
	o := f.orchestrator(t, false)
	task := f.submit(t, "save", "1")

	o.Run(context.Background(), task)

	rec := f.record(t, "save")
	if rec.Status != jobs.StatusFailed || !strings.HasPrefix(rec.ErrorMessage, ErrSave.Error()) {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestRunRasterizeFailureKeepsImagesByDefault(t *testing.T) {
	f := newFixture(t)
	f.rasterizer.err = errors.New("gs exited with status 1")
	o := f.orchestrator(t, false)
	task := f.submit(t, "raster", "1")

	o.Run(context.Background(), task)

	rec := f.record(t, "raster")
	if rec.Status != jobs.StatusFailed || !strings.HasPrefix(rec.ErrorMessage, ErrRasterize.Error()) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(f.imagesDir, "raster", "page_1.jpg")); err != nil {
		t.Fatalf("page images should be kept after failure: %v", err)
	}
}

func TestRunRasterizeFailureCleansUpWhenEnabled(t *testing.T) {
	f := newFixture(t)
	f.rasterizer.err = errors.New("gs exited with status 1")
	o := f.orchestrator(t, true)
	task := f.submit(t, "raster", "1")

	o.Run(context.Background(), task)

	if _, err := os.Stat(filepath.Join(f.imagesDir, "raster")); !os.IsNotExist(err) {
		t.Fatalf("page images should be removed, stat err = %v", err)
	}
}

func TestRunUnknownSessionDoesNotPanic(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, false)

	o.Run(context.Background(), jobs.Task{SessionID: "ghost", DocumentPath: "x.pdf"})

	if _, err := f.registry.Get(context.Background(), "ghost"); !errors.Is(err, jobs.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, false)

	tasks := []jobs.Task{
		f.submit(t, "a", "1"),
		f.submit(t, "b", "2"),
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task jobs.Task) {
			defer wg.Done()
			o.Run(context.Background(), task)
		}(task)
	}
	wg.Wait()

	for _, task := range tasks {
		rec := f.record(t, task.SessionID)
		if rec.Status != jobs.StatusCompleted {
			t.Fatalf("%s status = %s", task.SessionID, rec.Status)
		}
		if rec.ResultPath != "mem://"+task.SessionID+"/output.txt" {
			t.Fatalf("%s has foreign result path %q", task.SessionID, rec.ResultPath)
		}
		want := fmt.Sprintf("notes[%s]: page_1.jpg\npage_2.jpg", task.FormatMode)
		if got := f.artifacts.saved[task.SessionID]; got != want {
			t.Fatalf("%s artifact = %q, want %q", task.SessionID, got, want)
		}
	}
}

func TestConcurrentFailureDoesNotAffectOtherSession(t *testing.T) {
	f := newFixture(t)
	f.extractor.failing = map[string]error{"bad": errors.New("tesseract exited with status 1")}
	o := f.orchestrator(t, false)

	tasks := []jobs.Task{
		f.submit(t, "bad", "1"),
		f.submit(t, "good", "2"),
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task jobs.Task) {
			defer wg.Done()
			o.Run(context.Background(), task)
		}(task)
	}
	wg.Wait()

	bad := f.record(t, "bad")
	if bad.Status != jobs.StatusFailed {
		t.Fatalf("bad status = %s, want error", bad.Status)
	}
	if !strings.HasPrefix(bad.ErrorMessage, ErrExtract.Error()) || bad.ResultPath != "" {
		t.Fatalf("unexpected failed record: %+v", bad)
	}

	good := f.record(t, "good")
	if good.Status != jobs.StatusCompleted {
		t.Fatalf("good status = %s, want completed (error=%q)", good.Status, good.ErrorMessage)
	}
	if good.ErrorMessage != "" || good.ResultPath != "mem://good/output.txt" {
		t.Fatalf("unexpected completed record: %+v", good)
	}
	if got, want := f.artifacts.saved["good"], "notes[2]: page_1.jpg\npage_2.jpg"; got != want {
		t.Fatalf("good artifact = %q, want %q", got, want)
	}
	if _, ok := f.artifacts.saved["bad"]; ok {
		t.Fatal("failed session must not have an artifact")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
}
