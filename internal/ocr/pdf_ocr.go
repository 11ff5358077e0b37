package ocr

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
)

// minTextLayerRunes is the amount of embedded text below which a PDF is
// treated as a scan and rasterized.
const minTextLayerRunes = 16

func (e *Extractor) recognizePDF(ctx context.Context, path string) (Document, error) {
	doc, err := pdfTextLayer(path)
	if err != nil {
		e.logger.Warn("pdf text layer unavailable, falling back to ocr", "path", path, "error", err)
		doc.Warnings = append(doc.Warnings, err.Error())
	}
	if err == nil && len([]rune(strings.Join(strings.Fields(doc.Text), ""))) >= minTextLayerRunes {
		doc.Method = "pdf-text"
		return doc, nil
	}

	scanned, err := e.pdfToOCR(ctx, path)
	scanned.Warnings = append(doc.Warnings, scanned.Warnings...)
	return scanned, err
}

// pdfTextLayer reads embedded glyphs with their positions. PDF user space has a
// bottom-left origin; boxes are flipped to top-left so they match image OCR.
func pdfTextLayer(path string) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed pdf: %v", common.ErrUnreadableImage, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("%w: open pdf: %v", common.ErrUnreadableImage, err)
	}
	defer f.Close()

	var yOffset float64
	line := 0
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pw, ph := mediaBox(p)
		glyphs := p.Content().Text
		if ph == 0 {
			for _, g := range glyphs {
				ph = math.Max(ph, g.Y+g.FontSize)
				pw = math.Max(pw, g.X+g.W)
			}
		}
		words := wordsFromGlyphs(glyphs, ph, yOffset, i, line)
		if len(words) > 0 {
			line = words[len(words)-1].Line + 1
		}
		doc.Tokens = append(doc.Tokens, words...)
		doc.Width = math.Max(doc.Width, pw)
		yOffset += ph
		doc.Pages++
	}
	doc.Height = yOffset
	doc.Text = buildText(doc.Tokens)
	return doc, nil
}

func mediaBox(p pdf.Page) (float64, float64) {
	mb := p.V.Key("MediaBox")
	if mb.Len() != 4 {
		return 0, 0
	}
	return mb.Index(2).Float64() - mb.Index(0).Float64(), mb.Index(3).Float64() - mb.Index(1).Float64()
}

// wordsFromGlyphs groups positioned glyphs into word tokens, line by line.
func wordsFromGlyphs(glyphs []pdf.Text, pageHeight, yOffset float64, page, lineBase int) []Token {
	gs := make([]pdf.Text, 0, len(glyphs))
	for _, g := range glyphs {
		if strings.TrimSpace(g.S) != "" || g.S == " " {
			gs = append(gs, g)
		}
	}
	// top of page first, then left to right
	sort.SliceStable(gs, func(i, j int) bool {
		if math.Abs(gs[i].Y-gs[j].Y) > lineTolerance(gs[i], gs[j]) {
			return gs[i].Y > gs[j].Y
		}
		return gs[i].X < gs[j].X
	})

	var (
		out     []Token
		cur     strings.Builder
		box     Box
		lineY   = math.NaN()
		line    = lineBase - 1
		lastEnd float64
		lastSz  float64
	)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		out = append(out, Token{Text: cur.String(), Box: box, Confidence: 100, Page: page, Line: line})
		cur.Reset()
	}
	for _, g := range gs {
		sz := g.FontSize
		if sz <= 0 {
			sz = 10
		}
		newLine := math.IsNaN(lineY) || math.Abs(g.Y-lineY) > sz*0.5
		if newLine {
			flush()
			line++
			lineY = g.Y
		}
		if g.S == " " || strings.TrimSpace(g.S) == "" {
			flush()
			lastEnd = g.X + g.W
			continue
		}
		gap := g.X - lastEnd
		if !newLine && cur.Len() > 0 && gap > math.Max(sz, lastSz)*0.25 {
			flush()
		}
		top := pageHeight - g.Y - sz + yOffset
		if cur.Len() == 0 {
			box = Box{X: g.X, Y: top, W: g.W, H: sz}
		} else {
			right := math.Max(box.X+box.W, g.X+g.W)
			bottom := math.Max(box.Y+box.H, top+sz)
			box.Y = math.Min(box.Y, top)
			box.W = right - box.X
			box.H = bottom - box.Y
		}
		cur.WriteString(g.S)
		lastEnd = g.X + g.W
		lastSz = sz
	}
	flush()
	return out
}

func lineTolerance(a, b pdf.Text) float64 {
	return math.Max(math.Max(a.FontSize, b.FontSize)*0.5, 1)
}

func (e *Extractor) pdfToOCR(ctx context.Context, path string) (Document, error) {
	doc := Document{Method: "pdf-ocr", Language: e.cfg.TesseractLang}
	tmpDir, err := os.MkdirTemp("", "intake-pp-*")
	if err != nil {
		return doc, err
	}
	defer func(path string) {
		if err := os.RemoveAll(path); err != nil {
			e.logger.Warn("failed to remove temp dir", "path", path, "error", err)
		}
	}(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", strconv.Itoa(e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return doc, classifyExecError(ctx, "pdftoppm", err, errb)
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return doc, fmt.Errorf("%w: pdftoppm produced no images", common.ErrUnreadableImage)
	}

	var yOffset float64
	line := 0
	for i, img := range matches {
		out, err := e.tesseractTSV(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return doc, err
			}
			doc.Warnings = append(doc.Warnings, err.Error())
			continue
		}
		page := parseTSV(out, i+1, yOffset, line)
		line += page.lines
		yOffset += page.height
		doc.Width = math.Max(doc.Width, page.width)
		doc.Tokens = append(doc.Tokens, page.tokens...)
	}
	doc.Height = yOffset
	doc.Pages = len(matches)
	doc.Text = buildText(doc.Tokens)
	return doc, nil
}
