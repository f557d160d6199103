package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/garyjia/receipt-pipeline/internal/application/enrichment"
	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type textExtractor struct {
	mu      sync.Mutex
	records map[string]entity.BillingRecord
	calls   map[string]int
}

func (e *textExtractor) Extract(_ context.Context, rawText string) (entity.BillingRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = map[string]int{}
	}
	e.calls[rawText]++
	record, ok := e.records[rawText]
	if !ok {
		return entity.BillingRecord{}, &entity.ExtractionError{Reason: "no billing data in text"}
	}
	return record.Clone(), nil
}

func (e *textExtractor) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

// pageRenderer writes blank page images
type pageRenderer struct {
	pages int
}

func (r *pageRenderer) Render(_ context.Context, _ string, targetDir string, _ bool) ([]string, error) {
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, err
	}
	var blank bytes.Buffer
	if err := png.Encode(&blank, image.NewGray(image.Rect(0, 0, 40, 60))); err != nil {
		return nil, err
	}
	paths := make([]string, r.pages)
	for i := range paths {
		paths[i] = filepath.Join(targetDir, fmt.Sprintf("page_%d.png", i))
		if err := os.WriteFile(paths[i], blank.Bytes(), 0644); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// stubReader returns "text-of-<page>" for every image
type stubReader struct {
	mu    sync.Mutex
	calls int
}

func (r *stubReader) ReadText(_ context.Context, imagePath string) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return "text-of-" + pageBase(imagePath), nil
}

type memRuns struct {
	mu        sync.Mutex
	runs      map[int64]*entity.PipelineRun
	snapshots map[int64][]*entity.RunSnapshot
	nextID    int64
}

func newMemRuns() *memRuns {
	return &memRuns{runs: map[int64]*entity.PipelineRun{}, snapshots: map[int64][]*entity.RunSnapshot{}}
}

func (m *memRuns) Create(_ context.Context, run *entity.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	run.ID = m.nextID
	run.Status = entity.RunStatusRunning
	stored := *run
	m.runs[run.ID] = &stored
	return nil
}

func (m *memRuns) AppendSnapshot(_ context.Context, s *entity.RunSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *s
	m.snapshots[s.RunID] = append(m.snapshots[s.RunID], &stored)
	return nil
}

func (m *memRuns) Finish(_ context.Context, id int64, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return errors.New("run not found")
	}
	run.Status, run.Error = status, errMsg
	return nil
}

func (m *memRuns) GetByID(_ context.Context, id int64) (*entity.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, errors.New("run not found")
	}
	c := *run
	return &c, nil
}

func (m *memRuns) List(_ context.Context, limit, offset int) ([]*entity.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []*entity.PipelineRun
	for _, r := range m.runs {
		c := *r
		runs = append(runs, &c)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID > runs[j].ID })
	if offset >= len(runs) {
		return nil, nil
	}
	runs = runs[offset:]
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *memRuns) ListSnapshots(_ context.Context, runID int64) ([]*entity.RunSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entity.RunSnapshot(nil), m.snapshots[runID]...), nil
}

func (m *memRuns) bySource(source string) *entity.PipelineRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.Source == source {
			return r
		}
	}
	return nil
}

type inlineTx struct{}

func (inlineTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type staticAttendees struct {
	names, projects []string
	err             error
}

func (a *staticAttendees) Load(context.Context) ([]string, []string, error) {
	return a.names, a.projects, a.err
}

func billing(location string, total float64) entity.BillingRecord {
	return entity.BillingRecord{
		Date:            "2022-03-14",
		LocationName:    location,
		CurrencySymbol:  "€",
		CurrencyCode:    "EUR",
		TotalWithoutTip: total,
	}
}

type fixture struct {
	svc       *ReceiptService
	extractor *textExtractor
	reader    *stubReader
	runs      *memRuns
	attendees *staticAttendees
}

func newFixture(t *testing.T, pages int) *fixture {
	t.Helper()
	f := &fixture{
		extractor: &textExtractor{records: map[string]entity.BillingRecord{
			"text-of-page_0": billing("Trattoria Roma", 45),
			"text-of-page_2": billing("Brauhaus", 120),
			"walk-in":        billing("Cafe Central", 30),
		}},
		reader: &stubReader{},
		runs:   newMemRuns(),
		attendees: &staticAttendees{
			names:    []string{"Alice", "Bob", "Carol", "Dan", "Erin"},
			projects: []string{"Atlas", "Beacon"},
		},
	}
	logger := zap.NewNop()
	f.svc = NewReceiptService(Dependencies{
		Extractor: f.extractor,
		Renderer:  &pageRenderer{pages: pages},
		Reader:    f.reader,
		Runs:      f.runs,
		Tx:        inlineTx{},
		Storage: func(baseDir string) port.FileStorage {
			return storage.NewLocalFileStorage(baseDir, logger)
		},
		Attendees: func(string) port.AttendeeSource { return f.attendees },
	}, ReceiptConfig{
		Enrichment:  enrichment.DefaultConfig(),
		Concurrency: 2,
		City:        "Essen",
	}, logger)
	return f
}

func TestReceiptService_ProcessDocument(t *testing.T) {
	f := newFixture(t, 3)
	dataDir := filepath.Join(t.TempDir(), "Quittungen 2022")

	result, err := f.svc.ProcessDocument(context.Background(), "/in/Quittungen 2022.pdf", dataDir, DocumentOptions{Seed: 7})

	require.NoError(t, err)
	require.Len(t, result.Pages, 3)
	assert.Equal(t, 1, result.Failed())

	page0 := result.Pages[0]
	require.NoError(t, page0.Err)
	assert.Equal(t, "Quittungen 2022/page_0", page0.Source)
	final, ok := page0.Final()
	require.True(t, ok)
	assert.Equal(t, workflow.StateFinal, final.Stage)
	assert.Equal(t, 49.5, final.TotalWithTip)
	assert.Equal(t, "Alice", final.Names[0])

	page1 := result.Pages[1]
	var extractErr *entity.ExtractionError
	assert.True(t, errors.As(page1.Err, &extractErr))
	assert.Equal(t, 0, page1.History.Len())

	assert.NoError(t, result.Pages[2].Err)

	for _, name := range []string{"page_0.txt", "page_1.txt", "page_2.txt", "page_0.json", "page_0.yml", "page_2.json", "page_2.yml", WorkbookName} {
		assert.FileExists(t, filepath.Join(dataDir, name))
	}
	assert.Equal(t, filepath.Join(dataDir, "Quittungen 2022_bewirtungsbeleg.pdf"), result.FormsPath)
	assert.FileExists(t, result.FormsPath)
	assert.NoFileExists(t, filepath.Join(dataDir, "page_1.json"))

	run0 := f.runs.bySource("Quittungen 2022/page_0")
	require.NotNil(t, run0)
	assert.Equal(t, entity.RunStatusCompleted, run0.Status)
	snapshots, _ := f.runs.ListSnapshots(context.Background(), run0.ID)
	assert.Len(t, snapshots, 4)

	run1 := f.runs.bySource("Quittungen 2022/page_1")
	require.NotNil(t, run1)
	assert.Equal(t, entity.RunStatusFailed, run1.Status)
	assert.Contains(t, run1.Error, "no billing data")

	wb, err := excelize.OpenFile(result.WorkbookPath)
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Receipts")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestReceiptService_ProcessDocument_FormsPDF(t *testing.T) {
	f := newFixture(t, 1)
	f.svc.cfg.SignaturePath = filepath.Join(t.TempDir(), "missing.png")
	dataDir := t.TempDir()

	result, err := f.svc.ProcessDocument(context.Background(), "/in/doc.pdf", dataDir, DocumentOptions{Seed: 7})

	assert.ErrorContains(t, err, "failed to write forms PDF")
	require.NotNil(t, result)
	assert.Empty(t, result.FormsPath)
	assert.FileExists(t, result.WorkbookPath, "the workbook is written before the forms")
}

func TestReceiptService_ProcessDocument_NoFinalPagesNoFormsPDF(t *testing.T) {
	f := newFixture(t, 2)
	f.extractor.records = map[string]entity.BillingRecord{}
	dataDir := t.TempDir()

	result, err := f.svc.ProcessDocument(context.Background(), "/in/doc.pdf", dataDir, DocumentOptions{Seed: 7})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed())
	assert.Empty(t, result.FormsPath)
	assert.NoFileExists(t, filepath.Join(dataDir, "doc_bewirtungsbeleg.pdf"))
}

func TestReceiptService_ProcessDocument_SkipsProcessedPages(t *testing.T) {
	f := newFixture(t, 3)
	dataDir := t.TempDir()
	ctx := context.Background()

	_, err := f.svc.ProcessDocument(ctx, "/in/doc.pdf", dataDir, DocumentOptions{Seed: 7})
	require.NoError(t, err)
	require.Equal(t, 3, f.extractor.total())
	require.Equal(t, 3, f.reader.calls)

	result, err := f.svc.ProcessDocument(ctx, "/in/doc.pdf", dataDir, DocumentOptions{Seed: 7})

	require.NoError(t, err)
	assert.True(t, result.Pages[0].Skipped)
	assert.False(t, result.Pages[1].Skipped)
	assert.True(t, result.Pages[2].Skipped)
	assert.Equal(t, 4, f.extractor.total(), "only the failed page is extracted again")
	assert.Equal(t, 3, f.reader.calls, "page text comes from the cache")

	final, ok := result.Pages[0].Final()
	require.True(t, ok)
	assert.Equal(t, "Trattoria Roma", final.LocationName)
}

func TestReceiptService_ProcessDocument_OverwriteReprocesses(t *testing.T) {
	f := newFixture(t, 1)
	dataDir := t.TempDir()
	ctx := context.Background()

	_, err := f.svc.ProcessDocument(ctx, "/in/doc.pdf", dataDir, DocumentOptions{})
	require.NoError(t, err)
	result, err := f.svc.ProcessDocument(ctx, "/in/doc.pdf", dataDir, DocumentOptions{Overwrite: true})

	require.NoError(t, err)
	assert.False(t, result.Pages[0].Skipped)
	assert.Equal(t, 2, f.reader.calls)
	assert.Equal(t, 2, f.extractor.total())
}

func TestReceiptService_ProcessDocument_DeterministicPerSeed(t *testing.T) {
	namesFor := func(seed uint64) [][]string {
		f := newFixture(t, 3)
		result, err := f.svc.ProcessDocument(context.Background(), "/in/doc.pdf", t.TempDir(), DocumentOptions{Seed: seed})
		require.NoError(t, err)
		var out [][]string
		for _, p := range result.Pages {
			if final, ok := p.Final(); ok && p.Err == nil {
				out = append(out, final.Names)
			}
		}
		return out
	}

	assert.Equal(t, namesFor(11), namesFor(11))
}

func TestReceiptService_ProcessDocument_MissingUserData(t *testing.T) {
	f := newFixture(t, 1)
	f.attendees.err = errors.New("no user data file")

	_, err := f.svc.ProcessDocument(context.Background(), "/in/doc.pdf", t.TempDir(), DocumentOptions{})

	assert.ErrorContains(t, err, "failed to load attendees")
	assert.Zero(t, f.extractor.total())
}

func TestReceiptService_ProcessText(t *testing.T) {
	f := newFixture(t, 0)

	result, err := f.svc.ProcessText(context.Background(), "api", "walk-in", 3)

	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCompleted, result.Run.Status)
	assert.Equal(t, uint64(3), result.Run.Seed)
	assert.Equal(t, 4, result.History.Len())

	detail, err := f.svc.GetRun(context.Background(), result.Run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Snapshots, 4)
	assert.Equal(t, "extraction", detail.Snapshots[0].Step)
	assert.Equal(t, workflow.StateFinal, detail.Snapshots[3].Stage)
}

func TestReceiptService_ProcessText_FailureKeepsPartialHistory(t *testing.T) {
	f := newFixture(t, 0)
	f.attendees.projects = nil

	result, err := f.svc.ProcessText(context.Background(), "api", "walk-in", 3)

	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, entity.RunStatusFailed, result.Run.Status)
	assert.Equal(t, 2, result.History.Len())
	assert.False(t, IsClientError(err))

	snapshots, _ := f.runs.ListSnapshots(context.Background(), result.Run.ID)
	assert.Len(t, snapshots, 2)
}

func TestReceiptService_ResumeRun(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.attendees.projects = nil
	failed, err := f.svc.ProcessText(ctx, "api", "walk-in", 3)
	require.Error(t, err)

	f.attendees.projects = []string{"Atlas"}
	result, err := f.svc.ResumeRun(ctx, failed.Run.ID)

	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCompleted, result.Run.Status)
	assert.Equal(t, 4, result.History.Len())
	final, _ := result.Final()
	assert.Equal(t, "Projektbesprechung Atlas", final.TopicOrEmpty())
	assert.Equal(t, 1, f.extractor.total())

	snapshots, _ := f.runs.ListSnapshots(ctx, failed.Run.ID)
	require.Len(t, snapshots, 4)
	assert.Equal(t, 3, snapshots[3].Seq)

	_, err = f.svc.ResumeRun(ctx, failed.Run.ID)
	assert.ErrorIs(t, err, ErrRunCompleted)
}

func TestReceiptService_ResumeRun_ReplaysDocumentPage(t *testing.T) {
	ctx := context.Background()

	complete := newFixture(t, 3)
	result, err := complete.svc.ProcessDocument(ctx, "/in/doc.pdf", t.TempDir(), DocumentOptions{Seed: 7})
	require.NoError(t, err)
	want, ok := result.Pages[2].Final()
	require.True(t, ok)
	require.Len(t, want.Names, 4)

	interrupted := newFixture(t, 3)
	interrupted.attendees.projects = nil
	_, err = interrupted.svc.ProcessDocument(ctx, "/in/doc.pdf", t.TempDir(), DocumentOptions{Seed: 7})
	require.NoError(t, err)
	run := interrupted.runs.bySource("doc/page_2")
	require.NotNil(t, run)
	assert.Equal(t, entity.RunStatusFailed, run.Status)
	assert.Equal(t, uint64(7), run.Seed)
	assert.Equal(t, uint64(2), run.Stream)

	interrupted.attendees.projects = []string{"Atlas", "Beacon"}
	resumed, err := interrupted.svc.ResumeRun(ctx, run.ID)

	require.NoError(t, err)
	got, ok := resumed.Final()
	require.True(t, ok)
	assert.Equal(t, want.Names, got.Names)
	assert.Equal(t, want.TopicOrEmpty(), got.TopicOrEmpty())
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(fmt.Errorf("wrapped: %w", &entity.ExtractionError{Reason: "x"})))
	assert.True(t, IsClientError(&entity.MissingFieldError{Field: "total_with_tip"}))
	assert.False(t, IsClientError(errors.New("disk full")))
}

func TestReceiptService_ListRuns(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.ProcessText(ctx, fmt.Sprintf("api-%d", i), "walk-in", uint64(i))
		require.NoError(t, err)
	}

	runs, err := f.svc.ListRuns(ctx, 2, 0)

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, strings.HasPrefix(runs[0].Source, "api-2"))
}
