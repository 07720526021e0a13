// Package blocks derives renderable content blocks from Markdown-ish message
// text: fenced code, headings, tables and paragraphs.
package blocks

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/parley-dev/parley/internal/models"
)

var (
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	fenceRegex   = regexp.MustCompile("^```([A-Za-z0-9_+\\-]*)\\s*$")
)

// Split segments message content into blocks. Unterminated code fences run
// to the end of the input, so a message captured mid-stream still yields a
// well-formed block list.
func Split(content string) []models.ContentBlock {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var out []models.ContentBlock
	var para []string
	var code []string
	var codeLang string
	inCode := false

	flushPara := func() {
		text := strings.TrimSpace(strings.Join(para, "\n"))
		para = para[:0]
		if text == "" {
			return
		}
		kind := models.BlockParagraph
		if isTable(text) {
			kind = models.BlockTable
		}
		out = append(out, models.ContentBlock{Kind: kind, Text: text})
	}

	flushCode := func() {
		out = append(out, models.ContentBlock{
			Kind:     models.BlockCode,
			Text:     strings.Join(code, "\n"),
			Language: codeLang,
		})
		code = code[:0]
		codeLang = ""
		inCode = false
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if inCode {
			if fenceRegex.MatchString(line) && strings.TrimSpace(line) == "```" {
				flushCode()
				continue
			}
			code = append(code, line)
			continue
		}

		if m := fenceRegex.FindStringSubmatch(line); m != nil {
			flushPara()
			inCode = true
			codeLang = m[1]
			continue
		}

		if m := headingRegex.FindStringSubmatch(line); m != nil {
			flushPara()
			out = append(out, models.ContentBlock{
				Kind: models.BlockHeading,
				Text: strings.TrimSpace(m[2]),
			})
			continue
		}

		if strings.TrimSpace(line) == "" {
			flushPara()
			continue
		}
		para = append(para, line)
	}

	if inCode {
		flushCode()
	}
	flushPara()

	return out
}

// isTable reports whether a paragraph is a Markdown pipe table: at least two
// lines, all starting with '|', with a separator row second.
func isTable(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return false
	}
	for _, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "|") {
			return false
		}
	}
	sep := strings.TrimSpace(lines[1])
	return strings.ContainsAny(sep, "-") && strings.Trim(sep, "|-: \t") == ""
}
