// Package fingerprint derives a layout-only signature from OCR tokens.
//
// Tokens are grouped into lines by vertical proximity and lines are split into
// blocks at wide horizontal gaps. Each block becomes one region whose box is
// normalized to the bounding box of all significant text, so scale, margins
// and cropping do not change the signature.
package fingerprint

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/ocr"
)

// Options tune region detection. Zero values take defaults.
type Options struct {
	// LineTolerance is the max vertical centre offset, as a fraction of the
	// median token height, for two tokens to share a line.
	LineTolerance float64
	// GapFactor is the horizontal gap, in median token heights, that splits a line into blocks.
	GapFactor float64
	// MinConfidence drops scored tokens below this engine confidence (0..100).
	MinConfidence float64
}

func (o Options) withDefaults() Options {
	if o.LineTolerance <= 0 {
		o.LineTolerance = 0.5
	}
	if o.GapFactor <= 0 {
		o.GapFactor = 1.5
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = 20
	}
	return o
}

// Frame is the content bounding box used for normalization. MinConfidence
// is the significance cut the box was computed with.
type Frame struct {
	MinX, MinY    float64
	Width, Height float64
	MinConfidence float64
}

// Keep returns the tokens that count as text under this frame's cut, the same
// set the frame was measured on.
func (f Frame) Keep(tokens []ocr.Token) []ocr.Token {
	return Significant(tokens, f.MinConfidence)
}

// Normalize maps a pixel box into frame-relative coordinates.
func (f Frame) Normalize(b ocr.Box) entity.Region {
	return entity.Region{
		X: round4((b.X - f.MinX) / f.Width),
		Y: round4((b.Y - f.MinY) / f.Height),
		W: round4(b.W / f.Width),
		H: round4(b.H / f.Height),
	}
}

// Center returns the normalized centre of b.
func (f Frame) Center(b ocr.Box) (float64, float64) {
	return (b.X + b.W/2 - f.MinX) / f.Width, (b.Y + b.H/2 - f.MinY) / f.Height
}

// Fingerprint is the ordered list of normalized text regions of one document.
type Fingerprint struct {
	Regions []entity.Region
	Frame   Frame
}

// Empty reports whether no significant text was found.
func (fp Fingerprint) Empty() bool { return len(fp.Regions) == 0 }

// Compute builds the fingerprint with default options.
func Compute(tokens []ocr.Token) Fingerprint {
	return ComputeWith(tokens, Options{})
}

// ComputeWith builds the fingerprint. The result depends only on the tokens.
func ComputeWith(tokens []ocr.Token, opts Options) Fingerprint {
	opts = opts.withDefaults()
	sig := Significant(tokens, opts.MinConfidence)
	frame := FrameOf(sig)
	frame.MinConfidence = opts.MinConfidence
	if len(sig) == 0 {
		return Fingerprint{Frame: frame}
	}
	medH := medianHeight(sig)

	var regions []entity.Region
	for _, line := range groupLines(sig, opts.LineTolerance*medH) {
		for _, block := range splitBlocks(line, opts.GapFactor*medH) {
			regions = append(regions, frame.Normalize(union(block)))
		}
	}
	return Fingerprint{Regions: regions, Frame: frame}
}

// Significant filters out empty, zero-area, punctuation-only and low-confidence tokens.
func Significant(tokens []ocr.Token, minConfidence float64) []ocr.Token {
	out := make([]ocr.Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Box.W <= 0 || t.Box.H <= 0 {
			continue
		}
		if t.Confidence >= 0 && t.Confidence < minConfidence {
			continue
		}
		if !strings.ContainsFunc(t.Text, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSymbol(r)
		}) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FrameOf returns the bounding box of tokens. Degenerate sides become 1.
func FrameOf(tokens []ocr.Token) Frame {
	if len(tokens) == 0 {
		return Frame{Width: 1, Height: 1}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, t := range tokens {
		minX = math.Min(minX, t.Box.X)
		minY = math.Min(minY, t.Box.Y)
		maxX = math.Max(maxX, t.Box.X+t.Box.W)
		maxY = math.Max(maxY, t.Box.Y+t.Box.H)
	}
	f := Frame{MinX: minX, MinY: minY, Width: maxX - minX, Height: maxY - minY}
	if f.Width <= 0 {
		f.Width = 1
	}
	if f.Height <= 0 {
		f.Height = 1
	}
	return f
}

func medianHeight(tokens []ocr.Token) float64 {
	hs := make([]float64, len(tokens))
	for i, t := range tokens {
		hs[i] = t.Box.H
	}
	sort.Float64s(hs)
	n := len(hs)
	if n%2 == 1 {
		return hs[n/2]
	}
	return (hs[n/2-1] + hs[n/2]) / 2
}

func centerY(t ocr.Token) float64 { return t.Box.Y + t.Box.H/2 }

// groupLines orders tokens top-to-bottom and chains each token onto the line
// whose last member sits within tol vertically. Chaining through the last
// member keeps slightly skewed lines together.
func groupLines(tokens []ocr.Token, tol float64) [][]ocr.Token {
	sorted := make([]ocr.Token, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := centerY(sorted[i]), centerY(sorted[j])
		if ci != cj {
			return ci < cj
		}
		return sorted[i].Box.X < sorted[j].Box.X
	})

	var lines [][]ocr.Token
	var anchors []float64 // centre Y of the most recent token of each open line
	for _, t := range sorted {
		cy := centerY(t)
		placed := false
		// only the last few lines can still accept tokens
		for i := len(lines) - 1; i >= 0 && i >= len(lines)-3; i-- {
			if math.Abs(cy-anchors[i]) <= tol {
				lines[i] = append(lines[i], t)
				anchors[i] = cy
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, []ocr.Token{t})
			anchors = append(anchors, cy)
		}
	}
	for _, l := range lines {
		sort.SliceStable(l, func(i, j int) bool { return l[i].Box.X < l[j].Box.X })
	}
	return lines
}

func splitBlocks(line []ocr.Token, gap float64) [][]ocr.Token {
	var blocks [][]ocr.Token
	start := 0
	right := line[0].Box.X + line[0].Box.W
	for i := 1; i < len(line); i++ {
		if line[i].Box.X-right > gap {
			blocks = append(blocks, line[start:i])
			start = i
		}
		right = math.Max(right, line[i].Box.X+line[i].Box.W)
	}
	return append(blocks, line[start:])
}

func union(tokens []ocr.Token) ocr.Box {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, t := range tokens {
		minX = math.Min(minX, t.Box.X)
		minY = math.Min(minY, t.Box.Y)
		maxX = math.Max(maxX, t.Box.X+t.Box.W)
		maxY = math.Max(maxY, t.Box.Y+t.Box.H)
	}
	return ocr.Box{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
