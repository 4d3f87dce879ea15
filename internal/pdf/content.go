package pdf

import (
	"bytes"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// contentPages reads page text straight from content streams. It only sees
// strings shown with Tj, TJ, ' and ", so text in fonts with custom encodings
// comes out as raw bytes.
type contentPages struct {
	ctx *model.Context
}

func openPDFCPU(data []byte) (pageSource, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), pdfcpuConfig())
	if err != nil {
		return nil, err
	}
	return &contentPages{ctx: ctx}, nil
}

func (p *contentPages) NumPage() int { return p.ctx.PageCount }

func (p *contentPages) Text(pageNumber int) (string, error) {
	r, err := pdfcpu.ExtractPageContent(p.ctx, pageNumber+1)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return textFromStream(data), nil
}

func (p *contentPages) Close() error { return nil }

// textFromStream collects the text runs shown on one page, one run per
// show operator (Tj, TJ, ' and "), separated by spaces. Operators may share
// a line with their operands or with each other.
func textFromStream(data []byte) string {
	var (
		runs    []string
		pending []string
	)
	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case isPDFSpace(c) || c == '[' || c == ']' || c == '{' || c == '}' || c == '>':
			i++
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			raw, next := scanLiteral(data, i)
			pending = append(pending, decodePDFString(raw))
			i = next
		case c == '<':
			if i+1 < len(data) && data[i+1] == '<' {
				i += 2
				continue
			}
			s, next := scanHex(data, i)
			pending = append(pending, s)
			i = next
		case c == '/':
			i = scanToken(data, i+1)
		default:
			next := scanToken(data, i)
			if next == i {
				// Stray ')' or another delimiter with no meaning here.
				i++
				continue
			}
			tok := string(data[i:next])
			i = next
			switch {
			case tok == "Tj" || tok == "TJ" || tok == "'" || tok == "\"":
				if s := strings.TrimSpace(strings.Join(pending, "")); s != "" {
					runs = append(runs, s)
				}
				pending = nil
			case tok == "ID":
				i = skipInlineImage(data, i)
				pending = nil
			case isPDFNumber(tok):
				// Operands of TJ and " include numbers.
			default:
				pending = nil
			}
		}
	}
	return strings.Join(runs, " ")
}

func isPDFSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', 0:
		return true
	}
	return false
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isPDFNumber(tok string) bool {
	return strings.IndexByte("+-.0123456789", tok[0]) >= 0
}

// scanToken returns the end of the regular-character token starting at i.
func scanToken(data []byte, i int) int {
	for i < len(data) && !isPDFSpace(data[i]) && !isPDFDelimiter(data[i]) {
		i++
	}
	return i
}

// scanLiteral returns the raw bytes of the literal string opening at i and
// the index after its closing parenthesis. Balanced parentheses nest.
func scanLiteral(data []byte, i int) ([]byte, int) {
	start := i + 1
	depth := 1
	for j := start; j < len(data); j++ {
		switch data[j] {
		case '\\':
			j++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return data[start:j], j + 1
			}
		}
	}
	return data[start:], len(data)
}

// scanHex decodes the hex string opening at i. Whitespace is ignored and a
// trailing odd digit is padded with zero.
func scanHex(data []byte, i int) (string, int) {
	var (
		out  []byte
		hi   byte
		half bool
	)
	j := i + 1
	for ; j < len(data) && data[j] != '>'; j++ {
		v, ok := hexValue(data[j])
		if !ok {
			continue
		}
		if !half {
			hi, half = v, true
			continue
		}
		out = append(out, hi<<4|v)
		half = false
	}
	if half {
		out = append(out, hi<<4)
	}
	if j < len(data) {
		j++
	}
	return string(out), j
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// skipInlineImage moves past the binary data of an inline image, which runs
// from ID to an EI operator standing on its own.
func skipInlineImage(data []byte, i int) int {
	for j := i; j+2 <= len(data); j++ {
		if data[j] != 'E' || data[j+1] != 'I' {
			continue
		}
		if j > 0 && !isPDFSpace(data[j-1]) {
			continue
		}
		if j+2 < len(data) && !isPDFSpace(data[j+2]) && !isPDFDelimiter(data[j+2]) {
			continue
		}
		return j + 2
	}
	return len(data)
}

// decodePDFString handles the escape sequences of PDF literal strings.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		case '\n':
			// Line continuation.
		case '\r':
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		default:
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			// Octal escape, up to three digits.
			val := int(raw[i] - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}
