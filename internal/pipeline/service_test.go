package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/async"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/fingerprint"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/metrics"
	"github.com/joseph-ayodele/receipts-intake/internal/ocr"
	"github.com/joseph-ayodele/receipts-intake/internal/repository"
	"github.com/joseph-ayodele/receipts-intake/internal/scoring"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// docFromLines lays words out on a grid, one text line per row.
func docFromLines(lines []string, conf float64) ocr.Document {
	var tokens []ocr.Token
	for li, line := range lines {
		x := 10.0
		for _, w := range strings.Fields(line) {
			width := float64(len(w)) * 8
			tokens = append(tokens, ocr.Token{
				Text:       w,
				Box:        ocr.Box{X: x, Y: 10 + float64(li)*24, W: width, H: 14},
				Confidence: conf,
				Line:       li,
			})
			x += width + 6
		}
	}
	return ocr.Document{Text: strings.Join(lines, "\n"), Tokens: tokens, Pages: 1, Method: "image-ocr"}
}

var acmeLines = []string{
	"ACME MARKET",
	"Coffee 3.50",
	"Bagel 2.25",
	"Subtotal 5.75",
	"Tax 0.46",
	"Total 6.21",
}

var genericLines = []string{
	"CORNER SHOP",
	"Receipt #: 10234",
	"Date: 03/15/24",
	"Coffee 3.50",
	"Bagel 2.25",
	"Subtotal 5.75",
	"Tax 0.46",
	"TOTAL $6.21",
}

func anchored(field string, labels ...string) entity.Rule {
	return entity.Rule{
		Kind:   entity.RuleAnchoredPattern,
		Field:  field,
		Type:   entity.TypeCurrency,
		Anchor: &entity.AnchorSpec{Labels: labels},
	}
}

func acmeTemplate(extra ...entity.Rule) entity.Template {
	return entity.Template{
		ID:           uuid.New(),
		DocumentType: "receipt",
		Vendor:       "acme",
		FormatName:   "acme-till",
		Fingerprint:  fingerprint.Compute(docFromLines(acmeLines, 95).Tokens).Regions,
		Rules: append([]entity.Rule{
			anchored("subtotal", "subtotal"),
			anchored("tax_amount", "tax"),
			anchored("total_amount", "total"),
		}, extra...),
		Active:    true,
		UpdatedAt: time.Now(),
	}
}

type fakeOCR struct {
	mu     sync.Mutex
	docs   map[string]ocr.Document
	err    error
	calls  int
	during func(path string)
}

func (f *fakeOCR) Recognize(_ context.Context, path string) (ocr.Document, error) {
	f.mu.Lock()
	f.calls++
	during := f.during
	doc, ok := f.docs[filepath.Base(path)]
	err := f.err
	f.mu.Unlock()
	if during != nil {
		during(path)
	}
	if err != nil {
		return ocr.Document{}, err
	}
	if !ok {
		return ocr.Document{}, common.ErrUnreadableImage
	}
	return doc, nil
}

type memTemplates struct {
	mu        sync.Mutex
	templates []entity.Template
	successes map[uuid.UUID]int
	proposals []entity.MappingProposal
}

func (m *memTemplates) FetchActive(_ context.Context, f entity.TemplateFilter) ([]entity.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Template
	for _, t := range m.templates {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *memTemplates) RecordMatchSuccess(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes[id]++
	return nil
}

func (m *memTemplates) ProposeMapping(_ context.Context, p entity.MappingProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals = append(m.proposals, p)
	return nil
}

func (m *memTemplates) Upsert(_ context.Context, t entity.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = append(m.templates, t)
	return nil
}

type capturePublisher struct {
	mu        sync.Mutex
	finalized []entity.FinalRecord
	reviews   []entity.QueueItem
}

func (c *capturePublisher) Finalized(_ context.Context, rec entity.FinalRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = append(c.finalized, rec)
	return nil
}

func (c *capturePublisher) ReviewRequested(_ context.Context, item entity.QueueItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviews = append(c.reviews, item)
	return nil
}

func (c *capturePublisher) Close() {}

type harness struct {
	svc       *Service
	dir       string
	ocr       *fakeOCR
	templates *memTemplates
	published *capturePublisher
	queue     repository.QueueRepository
}

func newHarness(t *testing.T, tpls ...entity.Template) *harness {
	t.Helper()
	ctx := context.Background()
	drv, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "queue.db"), 0, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })
	require.NoError(t, repository.MigrateSQLite(drv.DB(), testLogger()))

	h := &harness{
		dir:       t.TempDir(),
		ocr:       &fakeOCR{docs: map[string]ocr.Document{}},
		templates: &memTemplates{templates: tpls, successes: map[uuid.UUID]int{}},
		published: &capturePublisher{},
		queue:     repository.NewQueueRepository(drv, testLogger()),
	}
	h.serve(t, h.queue)
	return h
}

// serve rebuilds the service over q, which may wrap h.queue.
func (h *harness) serve(t *testing.T, q repository.QueueRepository) {
	t.Helper()
	scorer, err := scoring.NewScorer(scoring.DefaultPolicy())
	require.NoError(t, err)
	h.svc, err = NewService(Config{OCRTimeout: time.Second}, Deps{
		Queue:     q,
		Templates: h.templates,
		OCR:       h.ocr,
		Scorer:    scorer,
		Publisher: h.published,
		Metrics:   metrics.NewPipelineMetrics("test"),
		Logger:    testLogger(),
	})
	require.NoError(t, err)
}

// place writes a ready file and registers the OCR output for it.
func (h *harness) place(t *testing.T, name string, doc *ocr.Document) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("scan"), 0o644))
	if doc != nil {
		h.ocr.mu.Lock()
		h.ocr.docs[name] = *doc
		h.ocr.mu.Unlock()
	}
	return path
}

func request(path string) entity.ProcessRequest {
	return entity.ProcessRequest{FilePath: path, CallingAppID: "tests"}
}

func TestMatchedHighConfidenceIsAutoAccepted(t *testing.T) {
	tpl := acmeTemplate()
	h := newHarness(t, tpl)
	doc := docFromLines(acmeLines, 95)
	path := h.place(t, "ready_acme.png", &doc)

	item, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.NoError(t, err)

	require.Equal(t, constants.QueueStatusCompleted, item.Status)
	require.Equal(t, constants.ActionAutoAccept, item.Action)
	require.False(t, item.RequiresReview)
	require.Equal(t, "acme.png", item.Filename)
	require.Equal(t, "receipt", *item.DocumentType)

	cls := item.Classification
	require.NotNil(t, cls)
	require.Equal(t, tpl.ID, *cls.TemplateID)
	require.InDelta(t, 1.0, cls.Similarity, 1e-9)
	require.False(t, cls.UnknownFormat)
	require.Equal(t, constants.TierHigh, cls.Confidence.Tier)
	require.InDelta(t, 0.985, cls.Confidence.Score, 1e-9)
	require.Equal(t, "6.21", cls.Extraction.Fields["total_amount"].Value)
	require.Empty(t, item.Flags)

	require.Equal(t, 1, h.templates.successes[tpl.ID])
	require.Len(t, h.published.finalized, 1)
	rec := h.published.finalized[0]
	require.Equal(t, item.ID, rec.ItemID)
	require.Equal(t, "5.75", rec.Fields["subtotal"])
	require.False(t, rec.Reviewed)
}

func TestRegionRulesIgnoreSpecksOutsideTheText(t *testing.T) {
	tpl := acmeTemplate()
	tpl.Rules = []entity.Rule{{
		Kind:   entity.RulePositionalRegion,
		Field:  "total_amount",
		Type:   entity.TypeCurrency,
		Region: &entity.RegionSpec{Box: entity.Region{X: 0, Y: 0.85, W: 1, H: 0.15}},
	}}
	h := newHarness(t, tpl)
	doc := docFromLines(acmeLines, 95)
	doc.Tokens = append(doc.Tokens, ocr.Token{
		Text:       "x",
		Box:        ocr.Box{X: 12, Y: 1000, W: 6, H: 6},
		Confidence: 5,
		Line:       len(acmeLines),
	})
	path := h.place(t, "ready_speck.png", &doc)

	item, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.NoError(t, err)

	cls := item.Classification
	require.False(t, cls.UnknownFormat)
	require.InDelta(t, 1.0, cls.Similarity, 1e-9)
	require.Empty(t, cls.Extraction.Errors)
	require.Equal(t, "6.21", cls.Extraction.Fields["total_amount"].Value)
}

func TestUnknownFormatFallsBackToGenericAndWaitsForReview(t *testing.T) {
	h := newHarness(t, acmeTemplate())
	doc := docFromLines(genericLines, 95)
	path := h.place(t, "ready_corner.jpg", &doc)

	item, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.NoError(t, err)

	require.Equal(t, constants.QueueStatusProcessing, item.Status)
	require.True(t, item.AwaitingReview())
	require.Equal(t, constants.ReviewQuick, item.ReviewType)
	require.True(t, item.HasFlag(constants.FlagUnknownFormat))
	require.True(t, item.Classification.UnknownFormat)
	require.Nil(t, item.Classification.TemplateID)
	require.NotEmpty(t, item.Classification.Candidates)
	require.Equal(t, constants.TierMedium, item.Classification.Confidence.Tier)
	require.Equal(t, "10234", item.Classification.Extraction.Fields["receipt_number"].Value)
	require.Len(t, h.published.reviews, 1)

	rec, err := h.svc.CompleteReview(context.Background(), ReviewRequest{
		ItemID:   item.ID.String(),
		Reviewer: "dana",
		Fields:   map[string]string{"total": "$6.25"},
	})
	require.NoError(t, err)
	require.True(t, rec.Reviewed)
	require.Equal(t, "dana", rec.Reviewer)
	require.Equal(t, "6.25", rec.Fields["total_amount"])
	require.Equal(t, "10234", rec.Fields["receipt_number"])

	got, err := h.svc.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusCompleted, got.Status)
	require.Equal(t, map[string]string{"total_amount": "6.25"}, got.Review.Corrections)
	require.Empty(t, h.templates.proposals)
	require.Len(t, h.published.finalized, 1)

	_, err = h.svc.CompleteReview(context.Background(), ReviewRequest{ItemID: item.ID.String(), Reviewer: "dana"})
	require.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestReviewCorrectionsOnTemplateBecomeProposals(t *testing.T) {
	tpl := acmeTemplate(
		entity.Rule{Kind: entity.RuleAnchoredPattern, Field: "receipt_number", Type: entity.TypeText,
			Anchor: &entity.AnchorSpec{Labels: []string{"order"}}},
		entity.Rule{Kind: entity.RuleAnchoredPattern, Field: "receipt_date", Type: entity.TypeDate,
			Anchor: &entity.AnchorSpec{Labels: []string{"date"}}},
	)
	h := newHarness(t, tpl)
	doc := docFromLines(acmeLines, 95)
	path := h.place(t, "ready_acme2.png", &doc)

	item, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.NoError(t, err)
	require.Equal(t, constants.TierMedium, item.Classification.Confidence.Tier)
	require.True(t, item.AwaitingReview())

	_, err = h.svc.CompleteReview(context.Background(), ReviewRequest{
		ItemID:   item.ID.String(),
		Reviewer: "sam",
		Fields:   map[string]string{"receipt_number": "A-77"},
	})
	require.NoError(t, err)

	require.Len(t, h.templates.proposals, 1)
	p := h.templates.proposals[0]
	require.Equal(t, tpl.ID, p.TemplateID)
	require.Equal(t, "receipt_number", p.Field)
	require.Equal(t, "", p.Extracted)
	require.Equal(t, "A-77", p.Corrected)
	require.Zero(t, h.templates.successes[tpl.ID])
}

func TestReviewPayloadValidation(t *testing.T) {
	h := newHarness(t)
	doc := docFromLines(genericLines, 95)
	path := h.place(t, "ready_v.png", &doc)
	item, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.NoError(t, err)

	cases := []ReviewRequest{
		{ItemID: "not-a-uuid", Reviewer: "x"},
		{ItemID: item.ID.String()},
		{ItemID: item.ID.String(), Reviewer: "x", Fields: map[string]string{"favourite_colour": "blue"}},
		{ItemID: item.ID.String(), Reviewer: "x", Fields: map[string]string{"line_items": "a"}},
		{ItemID: item.ID.String(), Reviewer: "x", Fields: map[string]string{"total_amount": "lots"}},
		{ItemID: item.ID.String(), Reviewer: "x", Fields: map[string]string{"receipt_date": "02/30/2024"}},
	}
	for _, c := range cases {
		_, err := h.svc.CompleteReview(context.Background(), c)
		require.ErrorIs(t, err, common.ErrValidation, "%+v", c)
	}

	got, err := h.svc.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusProcessing, got.Status)
}

func TestReviewReportsEveryBadAmount(t *testing.T) {
	req := ReviewRequest{ItemID: uuid.NewString(), Reviewer: "dana", Fields: map[string]string{
		"total":  "lots",
		"tax":    "some",
		"vendor": "Acme",
	}}
	_, err := req.canonical()
	require.ErrorIs(t, err, common.ErrValidation)
	require.Contains(t, err.Error(), "total_amount")
	require.Contains(t, err.Error(), "tax_amount")

	req.Fields = map[string]string{"total": "$6.21", "tax": ""}
	out, err := req.canonical()
	require.NoError(t, err)
	require.Equal(t, "$6.21", out.Fields["total_amount"])
}

func TestUnreadableScanIsForcedLow(t *testing.T) {
	h := newHarness(t, acmeTemplate())
	path := h.place(t, "ready_blurry.png", nil)

	item, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.NoError(t, err)
	require.True(t, item.HasFlag(constants.FlagOCRFailed))
	require.Equal(t, constants.TierLow, item.Classification.Confidence.Tier)
	require.Equal(t, constants.ReviewFull, item.ReviewType)
	require.Equal(t, constants.ActionFullReview, item.Action)
	require.LessOrEqual(t, item.Classification.Confidence.Score, 0.5)
	require.Zero(t, item.Classification.Confidence.Breakdown.OCR)
}

func TestOCROutageFailsTheItem(t *testing.T) {
	h := newHarness(t)
	h.ocr.err = common.ErrOCRUnavailable
	path := h.place(t, "ready_down.png", nil)

	item, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.ErrorIs(t, err, common.ErrOCRUnavailable)
	require.True(t, common.IsRetryable(err))
	require.Equal(t, constants.QueueStatusFailed, item.Status)
	require.Contains(t, item.FailureReason, "ocr unavailable")

	// A retry is a fresh item with the next attempt number.
	h.ocr.err = nil
	doc := docFromLines(genericLines, 95)
	h.ocr.docs["ready_down.png"] = doc
	retry, err := h.svc.ProcessDocument(context.Background(), entity.ProcessRequest{FilePath: path, Attempt: 2})
	require.NoError(t, err)
	require.NotEqual(t, item.ID, retry.ID)
	require.Equal(t, 2, retry.Attempt)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	notReady := filepath.Join(h.dir, "scan.png")
	require.NoError(t, os.WriteFile(notReady, []byte("x"), 0o644))

	_, err := h.svc.ProcessDocument(context.Background(), request(filepath.Join(h.dir, "ready_missing.png")))
	require.ErrorIs(t, err, common.ErrFileNotFound)

	_, err = h.svc.ProcessDocument(context.Background(), request(notReady))
	require.ErrorIs(t, err, common.ErrFileNotReady)

	_, err = h.svc.ProcessDocument(context.Background(), request(filepath.Join(h.dir, "ready_notes.txt")))
	require.ErrorIs(t, err, common.ErrUnsupportedFileType)

	_, err = h.svc.ProcessDocument(context.Background(), request("relative/ready_a.png"))
	require.ErrorIs(t, err, common.ErrInvalidInput)

	require.Zero(t, h.ocr.calls)
	counts, err := h.svc.Counts(context.Background())
	require.NoError(t, err)
	require.Empty(t, counts)
}

func TestRepeatedHandOffReturnsExistingItem(t *testing.T) {
	h := newHarness(t, acmeTemplate())
	doc := docFromLines(acmeLines, 95)
	path := h.place(t, "ready_twice.png", &doc)

	first, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.NoError(t, err)
	second, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, h.ocr.calls)
}

// slowCreates widens the gap between the live-item lookup and the insert.
type slowCreates struct {
	repository.QueueRepository
	delay time.Duration
}

func (s slowCreates) Create(ctx context.Context, item *entity.QueueItem) error {
	time.Sleep(s.delay)
	return s.QueueRepository.Create(ctx, item)
}

func TestConcurrentHandOffsOfOneFileShareAnItem(t *testing.T) {
	h := newHarness(t, acmeTemplate())
	h.serve(t, slowCreates{QueueRepository: h.queue, delay: 20 * time.Millisecond})
	doc := docFromLines(acmeLines, 95)
	path := h.place(t, "ready_race.png", &doc)

	items := make([]entity.QueueItem, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items[i], errs[i] = h.svc.ProcessDocument(context.Background(), request(path))
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, items[0].ID, items[1].ID)

	all, err := h.queue.List(context.Background(), repository.QueueFilter{FilePath: path})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, constants.QueueStatusCompleted, all[0].Status)
	require.Equal(t, 1, h.ocr.calls)
}

func TestPendingItemIsRunByTheNextHandOff(t *testing.T) {
	h := newHarness(t, acmeTemplate())
	doc := docFromLines(acmeLines, 95)
	path := h.place(t, "ready_stranded.png", &doc)

	// left pending by a run that stopped before its worker got to it
	stranded := &entity.QueueItem{Filename: "stranded.png", FilePath: path, CallingAppID: "tests"}
	require.NoError(t, h.queue.Create(context.Background(), stranded))

	item, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.NoError(t, err)
	require.Equal(t, stranded.ID, item.ID)
	require.Equal(t, constants.QueueStatusCompleted, item.Status)
	require.Equal(t, 1, h.ocr.calls)
}

func TestRecoverSettlesAbandonedItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	doc := docFromLines(genericLines, 95)

	// claimed and never routed
	abandoned := &entity.QueueItem{Filename: "abandoned.png", FilePath: h.place(t, "ready_abandoned.png", &doc)}
	require.NoError(t, h.queue.Create(ctx, abandoned))
	ok, err := h.queue.TryStartProcessing(ctx, abandoned.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// parked for a reviewer
	parked, err := h.svc.ProcessDocument(ctx, request(h.place(t, "ready_parked.png", &doc)))
	require.NoError(t, err)
	require.True(t, parked.AwaitingReview())

	waiting := &entity.QueueItem{Filename: "waiting.png", FilePath: h.place(t, "ready_waiting.png", &doc)}
	require.NoError(t, h.queue.Create(ctx, waiting))

	_, _, err = h.svc.Recover(ctx, time.Now())
	require.ErrorIs(t, err, common.ErrServiceUnavailable)

	q := &recordingQueue{}
	h.svc.AttachQueue(q)
	requeued, interrupted, err := h.svc.Recover(ctx, time.Now())
	require.NoError(t, err)
	// the first attempt already failed the abandoned item
	require.Zero(t, interrupted)
	require.Equal(t, 1, requeued)
	require.Len(t, q.jobs, 1)
	require.Equal(t, waiting.ID, q.jobs[0].ItemID)

	got, err := h.svc.GetItem(ctx, abandoned.ID)
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusFailed, got.Status)
	require.Equal(t, constants.ReasonInterrupted, got.FailureReason)

	got, err = h.svc.GetItem(ctx, parked.ID)
	require.NoError(t, err)
	require.True(t, got.AwaitingReview())

	// the file of an interrupted item registers afresh
	retry, err := h.svc.ProcessDocument(ctx, request(abandoned.FilePath))
	require.NoError(t, err)
	require.NotEqual(t, abandoned.ID, retry.ID)
	require.True(t, retry.AwaitingReview())
}

func TestSimultaneousFilesAreIndependent(t *testing.T) {
	h := newHarness(t, acmeTemplate())
	acme := docFromLines(acmeLines, 95)
	generic := docFromLines(genericLines, 95)
	paths := []string{h.place(t, "ready_one.png", &acme), h.place(t, "ready_two.png", &generic)}

	items := make([]entity.QueueItem, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items[i], errs[i] = h.svc.ProcessDocument(context.Background(), request(p))
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.NotEqual(t, items[0].ID, items[1].ID)
	require.Equal(t, constants.QueueStatusCompleted, items[0].Status)
	require.False(t, items[0].Classification.UnknownFormat)
	require.True(t, items[1].Classification.UnknownFormat)
	require.Equal(t, "6.21", items[1].Classification.Extraction.Fields["total_amount"].Value)
}

func TestCancelDuringProcessingStopsAtStageBoundary(t *testing.T) {
	h := newHarness(t, acmeTemplate())
	doc := docFromLines(acmeLines, 95)
	path := h.place(t, "ready_cancel.png", &doc)

	h.ocr.during = func(string) {
		items, err := h.queue.List(context.Background(), repository.QueueFilter{FilePath: path})
		require.NoError(t, err)
		require.Len(t, items, 1)
		_, err = h.svc.CancelItem(context.Background(), items[0].ID)
		require.NoError(t, err)
	}

	item, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.ErrorIs(t, err, common.ErrCancelled)
	require.Equal(t, constants.QueueStatusFailed, item.Status)
	require.Equal(t, constants.ReasonCancelled, item.FailureReason)
	require.Nil(t, item.Classification)
	require.Empty(t, h.published.finalized)
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []async.Job
}

func (r *recordingQueue) Enqueue(_ context.Context, job async.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingQueue) Shutdown(context.Context) {}

func TestSubmitThenCancelPending(t *testing.T) {
	h := newHarness(t)
	doc := docFromLines(genericLines, 95)
	path := h.place(t, "ready_async.png", &doc)

	_, err := h.svc.SubmitDocument(context.Background(), request(path))
	require.ErrorIs(t, err, common.ErrServiceUnavailable)

	q := &recordingQueue{}
	h.svc.AttachQueue(q)
	ack, err := h.svc.SubmitDocument(context.Background(), request(path))
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusPending, ack.Status)
	require.Len(t, q.jobs, 1)
	require.Equal(t, ack.ItemID, q.jobs[0].ItemID)

	item, err := h.svc.CancelItem(context.Background(), ack.ItemID)
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusFailed, item.Status)
	require.Equal(t, constants.ReasonCancelled, item.FailureReason)

	err = h.svc.HandleJob(context.Background(), q.jobs[0])
	require.ErrorIs(t, err, common.ErrInvalidTransition)
	require.Zero(t, h.ocr.calls)
}

func TestSubmitRunsOnWorkerPool(t *testing.T) {
	h := newHarness(t, acmeTemplate())
	doc := docFromLines(acmeLines, 95)
	path := h.place(t, "ready_pool.png", &doc)

	pool := async.NewProcessorQueue(h.svc.HandleJob, testLogger(), async.WithWorkers(2))
	h.svc.AttachQueue(pool)

	ack, err := h.svc.SubmitDocument(context.Background(), request(path))
	require.NoError(t, err)
	pool.Shutdown(context.Background())

	item, err := h.svc.GetItem(context.Background(), ack.ItemID)
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusCompleted, item.Status)
}

func TestCancelAwaitingReview(t *testing.T) {
	h := newHarness(t)
	doc := docFromLines(genericLines, 95)
	path := h.place(t, "ready_parked.png", &doc)
	item, err := h.svc.ProcessDocument(context.Background(), request(path))
	require.NoError(t, err)
	require.True(t, item.AwaitingReview())

	got, err := h.svc.CancelItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusFailed, got.Status)

	_, err = h.svc.CancelItem(context.Background(), item.ID)
	require.ErrorIs(t, err, common.ErrInvalidTransition)
}
