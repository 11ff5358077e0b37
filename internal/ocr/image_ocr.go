package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
)

func (e *Extractor) recognizeImage(ctx context.Context, path string) (Document, error) {
	out, err := e.tesseractTSV(ctx, path)
	if err != nil {
		return Document{Method: "image-ocr"}, err
	}
	page := parseTSV(out, 1, 0, 0)
	return Document{
		Text:     buildText(page.tokens),
		Tokens:   page.tokens,
		Width:    page.width,
		Height:   page.height,
		Pages:    1,
		Method:   "image-ocr",
		Language: e.cfg.TesseractLang,
	}, nil
}

// tesseractTSV runs tesseract in TSV mode, which yields words with geometry and confidence.
func (e *Extractor) tesseractTSV(ctx context.Context, path string) ([]byte, error) {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return nil, classifyExecError(ctx, "tesseract", err, errb)
	}
	return out, nil
}

type tsvPage struct {
	tokens []Token
	width  float64
	height float64
	lines  int
}

// parseTSV reads tesseract TSV output. Columns:
// level page_num block_num par_num line_num word_num left top width height conf text
func parseTSV(data []byte, page int, yOffset float64, lineBase int) tsvPage {
	var res tsvPage
	lineIdx := map[string]int{}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	header := true
	for sc.Scan() {
		ln := sc.Text()
		if header {
			header = false
			if strings.HasPrefix(ln, "level") {
				continue
			}
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 11 {
			continue
		}
		level, err := strconv.Atoi(cols[0])
		if err != nil {
			continue
		}
		left, _ := strconv.ParseFloat(cols[6], 64)
		top, _ := strconv.ParseFloat(cols[7], 64)
		width, _ := strconv.ParseFloat(cols[8], 64)
		height, _ := strconv.ParseFloat(cols[9], 64)

		switch level {
		case 1:
			res.width = max(res.width, left+width)
			res.height = max(res.height, top+height)
		case 5:
			text := ""
			if len(cols) > 11 {
				text = strings.TrimSpace(strings.Join(cols[11:], " "))
			}
			if text == "" {
				continue
			}
			conf, err := strconv.ParseFloat(cols[10], 64)
			if err != nil {
				conf = -1
			}
			key := fmt.Sprintf("%s/%s/%s", cols[2], cols[3], cols[4])
			li, ok := lineIdx[key]
			if !ok {
				li = lineBase + len(lineIdx)
				lineIdx[key] = li
			}
			res.tokens = append(res.tokens, Token{
				Text:       text,
				Box:        Box{X: left, Y: top + yOffset, W: width, H: height},
				Confidence: conf,
				Page:       page,
				Line:       li,
			})
		}
	}
	res.lines = len(lineIdx)
	return res
}

// buildText joins tokens into lines in reading order.
func buildText(tokens []Token) string {
	var b strings.Builder
	prev := -1
	for i, t := range tokens {
		if i > 0 {
			if t.Line != prev {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.Text)
		prev = t.Line
	}
	return b.String()
}
