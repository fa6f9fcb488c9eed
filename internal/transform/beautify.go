package transform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/dshills/assetpipe/internal/pipeline"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

var inlineElements = map[string]bool{
	"a": true, "abbr": true, "b": true, "bdi": true, "bdo": true, "br": true,
	"cite": true, "code": true, "data": true, "dfn": true, "em": true,
	"i": true, "kbd": true, "mark": true, "q": true, "s": true, "samp": true,
	"small": true, "span": true, "strong": true, "sub": true, "sup": true,
	"time": true, "u": true, "var": true, "label": true,
}

// verbatimElements keep their body exactly as written.
var verbatimElements = map[string]bool{
	"pre": true, "textarea": true, "script": true, "style": true,
}

// Beautify re-indents HTML: block elements start on their own line and
// indent their children, inline elements and text flow on one line.
type Beautify struct {
	IndentSize int
}

// Transform reformats f.
func (b Beautify) Transform(_ context.Context, f *pipeline.File) error {
	out, err := b.Format(f.Contents)
	if err != nil {
		return err
	}
	f.Contents = out
	return nil
}

// impliedEnd lists, per element with an optional end tag, the start tags
// that close it.
var impliedEnd = map[string]map[string]bool{
	"li":       setOf("li"),
	"dt":       setOf("dt", "dd"),
	"dd":       setOf("dt", "dd"),
	"option":   setOf("option", "optgroup"),
	"optgroup": setOf("optgroup"),
	"tr":       setOf("tr", "tbody", "thead", "tfoot"),
	"td":       setOf("td", "th", "tr", "tbody", "thead", "tfoot"),
	"th":       setOf("td", "th", "tr", "tbody", "thead", "tfoot"),
	"thead":    setOf("tbody", "tfoot"),
	"tbody":    setOf("tbody", "tfoot"),
	"p": setOf("address", "article", "aside", "blockquote", "details", "div",
		"dl", "fieldset", "figcaption", "figure", "footer", "form", "h1", "h2",
		"h3", "h4", "h5", "h6", "header", "hgroup", "hr", "main", "menu", "nav",
		"ol", "p", "pre", "section", "table", "ul"),
}

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

type htmlPrinter struct {
	out    bytes.Buffer
	indent string
	// stack holds the written block elements still open; its length is the
	// indent depth.
	stack []string
	line  bytes.Buffer
	// spacing records collapsed whitespace owed before the next inline item.
	spacing bool
	// open holds a block start tag not yet written, so an element with only
	// inline content prints on one line.
	open     []byte
	openName string
}

func (p *htmlPrinter) writeLine(s []byte) {
	p.out.WriteString(strings.Repeat(p.indent, len(p.stack)))
	p.out.Write(s)
	p.out.WriteByte('\n')
}

// settle writes a held start tag on its own line and indents what follows.
func (p *htmlPrinter) settle() {
	if p.open == nil {
		return
	}
	p.writeLine(p.open)
	p.stack = append(p.stack, p.openName)
	p.open = nil
	p.openName = ""
}

func (p *htmlPrinter) flush() {
	p.settle()
	if p.line.Len() > 0 {
		p.writeLine(p.line.Bytes())
		p.line.Reset()
	}
	p.spacing = false
}

// top returns the innermost open block, held or written.
func (p *htmlPrinter) top() string {
	if p.open != nil {
		return p.openName
	}
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

func (p *htmlPrinter) isOpen(tag string) bool {
	if p.open != nil && p.openName == tag {
		return true
	}
	for i := len(p.stack) - 1; i >= 0; i-- {
		if p.stack[i] == tag {
			return true
		}
	}
	return false
}

// closeTop ends the innermost block. A nil raw closes it without writing an
// end tag, as for an omitted </li>.
func (p *htmlPrinter) closeTop(raw []byte) {
	if p.open != nil {
		line := append(p.open, p.line.Bytes()...)
		p.writeLine(append(line, raw...))
		p.open = nil
		p.openName = ""
		p.line.Reset()
		p.spacing = false
		return
	}
	p.flush()
	if len(p.stack) > 0 {
		p.stack = p.stack[:len(p.stack)-1]
	}
	if raw != nil {
		p.writeLine(raw)
	}
}

func (p *htmlPrinter) startBlock(raw []byte, tag string) {
	for {
		top := p.top()
		if top == "" || !impliedEnd[top][tag] {
			break
		}
		p.closeTop(nil)
	}
	p.flush()
	p.open = raw
	p.openName = tag
}

func (p *htmlPrinter) endBlock(raw []byte, tag string) {
	if !p.isOpen(tag) {
		// Stray end tag.
		p.flush()
		p.writeLine(raw)
		return
	}
	for p.top() != tag {
		p.closeTop(nil)
	}
	p.closeTop(raw)
}

func (p *htmlPrinter) inline(raw []byte) {
	if p.spacing && p.line.Len() > 0 {
		p.line.WriteByte(' ')
	}
	p.spacing = false
	p.line.Write(raw)
}

func (p *htmlPrinter) text(raw []byte) {
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		if len(raw) > 0 {
			p.spacing = true
		}
		return
	}
	if isSpace(raw[0]) {
		p.spacing = true
	}
	p.inline([]byte(strings.Join(fields, " ")))
	p.spacing = isSpace(raw[len(raw)-1])
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// Format returns src re-indented.
func (b Beautify) Format(src []byte) ([]byte, error) {
	size := b.IndentSize
	if size <= 0 {
		size = 2
	}
	p := &htmlPrinter{indent: strings.Repeat(" ", size)}
	z := html.NewTokenizer(bytes.NewReader(src))

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				p.flush()
				return p.out.Bytes(), nil
			}
			return nil, z.Err()

		case html.TextToken:
			p.text(z.Raw())

		case html.StartTagToken:
			raw := copyBytes(z.Raw())
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case verbatimElements[tag]:
				p.flush()
				body, err := verbatim(z, tag)
				if err != nil {
					return nil, err
				}
				p.writeLine(append(raw, body...))
			case inlineElements[tag]:
				p.inline(raw)
			case voidElements[tag]:
				if p.line.Len() > 0 {
					p.inline(raw)
					continue
				}
				p.flush()
				p.writeLine(raw)
			default:
				p.startBlock(raw, tag)
			}

		case html.EndTagToken:
			raw := copyBytes(z.Raw())
			name, _ := z.TagName()
			if inlineElements[string(name)] {
				p.inline(raw)
				continue
			}
			p.endBlock(raw, string(name))

		case html.SelfClosingTagToken:
			raw := copyBytes(z.Raw())
			name, _ := z.TagName()
			if inlineElements[string(name)] || p.line.Len() > 0 {
				p.inline(raw)
				continue
			}
			p.flush()
			p.writeLine(raw)

		case html.CommentToken, html.DoctypeToken:
			p.flush()
			p.writeLine(z.Raw())
		}
	}
}

// verbatim consumes tokens up to and including the end tag closing tag and
// returns their raw bytes.
func verbatim(z *html.Tokenizer, tag string) ([]byte, error) {
	var body bytes.Buffer
	nest := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return body.Bytes(), nil
			}
			return nil, z.Err()
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == tag {
				nest++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == tag {
				if nest == 0 {
					body.Write(z.Raw())
					return body.Bytes(), nil
				}
				nest--
			}
		}
		body.Write(z.Raw())
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
