package transform

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/dshills/assetpipe/internal/pipeline"
)

// FormatCSS applies indentation and numeric precision to generated CSS.
// Input indentation is assumed to be two spaces per level, which is what
// both Dart Sass and esbuild emit.
type FormatCSS struct {
	// IndentType is "space" or "tab".
	IndentType  string
	IndentWidth int
	// Precision is the number of decimal places kept. Negative disables
	// rounding.
	Precision int
	// Compressed leaves whitespace alone.
	Compressed bool
}

// Transform implements pipeline.Transformer.
func (c FormatCSS) Transform(_ context.Context, f *pipeline.File) error {
	f.Contents = []byte(c.Format(string(f.Contents)))
	return nil
}

// Format returns css with indentation and precision applied.
func (c FormatCSS) Format(css string) string {
	if c.Precision >= 0 {
		css = roundDecimals(css, c.Precision)
	}
	if c.Compressed {
		return css
	}

	unit := strings.Repeat(" ", c.IndentWidth)
	if c.IndentType == "tab" {
		unit = strings.Repeat("\t", max(c.IndentWidth, 1))
	}

	lines := strings.Split(css, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		level := (len(line) - len(trimmed)) / 2
		lines[i] = strings.Repeat(unit, level) + trimmed
	}
	return strings.Join(lines, "\n")
}

var decimalPattern = regexp.MustCompile(`-?\d*\.\d+`)

// roundDecimals rounds decimal literals outside quoted strings.
func roundDecimals(css string, precision int) string {
	var out strings.Builder
	var quote byte
	start := 0
	for i := 0; i < len(css); i++ {
		ch := css[i]
		switch {
		case quote != 0:
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
				out.WriteString(css[start : i+1])
				start = i + 1
			}
		case ch == '"' || ch == '\'':
			out.WriteString(roundSegment(css[start:i], precision))
			quote = ch
			start = i
		}
	}
	if quote != 0 {
		out.WriteString(css[start:])
	} else {
		out.WriteString(roundSegment(css[start:], precision))
	}
	return out.String()
}

func roundSegment(s string, precision int) string {
	idx := decimalPattern.FindAllStringIndex(s, -1)
	if idx == nil {
		return s
	}
	var out strings.Builder
	last := 0
	for _, m := range idx {
		lit := s[m[0]:m[1]]
		// part of an identifier such as a class name or a version
		if m[0] > 0 && isIdentByte(s[m[0]-1]) {
			continue
		}
		if m[1] < len(s) && (s[m[1]] == '.' || isDigit(s[m[1]])) {
			continue
		}
		out.WriteString(s[last:m[0]])
		out.WriteString(roundLiteral(lit, precision))
		last = m[1]
	}
	out.WriteString(s[last:])
	return out.String()
}

func roundLiteral(lit string, precision int) string {
	frac := lit[strings.IndexByte(lit, '.')+1:]
	if len(frac) <= precision {
		return lit
	}
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return lit
	}
	r := strconv.FormatFloat(v, 'f', precision, 64)
	if strings.Contains(r, ".") {
		r = strings.TrimRight(strings.TrimRight(r, "0"), ".")
	}
	if r == "-0" {
		r = "0"
	}
	if strings.HasPrefix(lit, ".") || strings.HasPrefix(lit, "-.") {
		r = strings.Replace(r, "0.", ".", 1)
	}
	return r
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' || isDigit(c) || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
