package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
)

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI for scanned PDFs, default 300
	MaxPages      int    // 0 = no limit

	TessdataDir string

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default
}

// Box is a pixel (or PDF point) rectangle with a top-left origin.
type Box struct {
	X, Y, W, H float64
}

// Token is one recognized word.
type Token struct {
	Text       string
	Box        Box
	Confidence float64 // 0..100, -1 when the engine gave none
	Page       int
	Line       int // reading-order line index within the document
}

// Document is the raw OCR output for one file.
type Document struct {
	Text     string
	Tokens   []Token
	Width    float64
	Height   float64
	Pages    int
	Method   string // "image-ocr" | "pdf-text" | "pdf-ocr"
	Language string
	Duration time.Duration
	Warnings []string
}

// Recognizer is the OCR capability consumed by the pipeline.
type Recognizer interface {
	Recognize(ctx context.Context, path string) (Document, error)
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

var _ Recognizer = (*Extractor)(nil)

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// Recognize picks a strategy based on file extension.
func (e *Extractor) Recognize(ctx context.Context, path string) (Document, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	e.logger.Debug("starting ocr", "path", path, "ext", ext)

	var (
		doc Document
		err error
	)
	switch constants.MapExtToFormat(ext) {
	case constants.PDF:
		doc, err = e.recognizePDF(ctx, path)
	case constants.IMAGE:
		doc, err = e.recognizeImage(ctx, path)
	default:
		e.logger.Error("unsupported ocr extension", "extension", ext)
		return Document{}, fmt.Errorf("%w: %q", common.ErrUnsupportedFileType, ext)
	}
	doc.Duration = time.Since(start)
	if err != nil {
		return doc, err
	}
	for i := range doc.Tokens {
		doc.Tokens[i].Text = NormalizeToken(doc.Tokens[i].Text)
	}
	doc.Text = Normalize(doc.Text)
	e.logger.Debug("ocr finished", "path", path, "method", doc.Method, "tokens", len(doc.Tokens), "duration_ms", doc.Duration.Milliseconds())
	return doc, nil
}

// MeanConfidence returns the mean token confidence in 0..1, ignoring tokens
// the engine did not score.
func (d Document) MeanConfidence() (float64, bool) {
	var sum, n float64
	for _, t := range d.Tokens {
		if t.Confidence < 0 {
			continue
		}
		sum += t.Confidence
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / n / 100, true
}

// Unreadable reports whether the text is empty or mostly non-alphanumeric noise.
func (d Document) Unreadable() bool {
	text := strings.TrimSpace(d.Text)
	if len([]rune(text)) < 8 {
		return true
	}
	var alnum, visible int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		visible++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	return visible == 0 || float64(alnum)/float64(visible) < 0.4
}
