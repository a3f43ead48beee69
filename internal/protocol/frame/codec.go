package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxHeaderLines int
	MaxLineBytes   int
	MaxBodyBytes   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxHeaderLines: 128,
		MaxLineBytes:   64 * 1024,
		MaxBodyBytes:   8 * 1024 * 1024,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxHeaderLines <= 0 {
		l.MaxHeaderLines = def.MaxHeaderLines
	}
	if l.MaxLineBytes <= 0 {
		l.MaxLineBytes = def.MaxLineBytes
	}
	if l.MaxBodyBytes <= 0 {
		l.MaxBodyBytes = def.MaxBodyBytes
	}
	return l
}

// Encode renders f as COMMAND, header lines, a blank line, the body, and a
// terminating NUL. Headers are written exactly as given.
func Encode(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(f.Command) + len(f.Body) + 32*len(f.Headers) + 3)
	buf.WriteString(string(f.Command))
	buf.WriteByte(newline)
	esc := f.Command.escapes()
	for _, kv := range f.Headers {
		if esc {
			buf.WriteString(escape(kv.Key))
			buf.WriteByte(colon)
			buf.WriteString(escape(kv.Value))
		} else {
			buf.WriteString(kv.Key)
			buf.WriteByte(colon)
			buf.WriteString(kv.Value)
		}
		buf.WriteByte(newline)
	}
	buf.WriteByte(newline)
	buf.Write(f.Body)
	buf.WriteByte(nul)
	return buf.Bytes(), nil
}

// WriteFrame encodes f and writes it with a single Write call.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	limits = limits.withDefaults()
	if len(f.Body) > limits.MaxBodyBytes {
		return protocolErrorf(KindFrameTooLarge, f.Command, "body=%d max=%d", len(f.Body), limits.MaxBodyBytes)
	}
	if len(f.Headers) > limits.MaxHeaderLines {
		return protocolErrorf(KindFrameTooLarge, f.Command, "headers=%d max=%d", len(f.Headers), limits.MaxHeaderLines)
	}
	b, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame decodes exactly one frame from r. Bytes buffered past the frame
// are lost, so long-lived streams should use a Decoder.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	return NewDecoder(r, limits).Next()
}

// Decoder yields frames from one stream in wire order. It is not safe for
// concurrent use and cannot be rewound.
type Decoder struct {
	r      *bufio.Reader
	limits Limits
}

func NewDecoder(r io.Reader, limits Limits) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br, limits: limits.withDefaults()}
}

// Next returns the next frame. Heart-beat EOLs between frames are skipped.
// A stream that ends cleanly between frames yields io.EOF; one that ends
// inside a frame yields a ProtocolError of KindMalformedFrame. Transport
// errors are returned unchanged.
func (d *Decoder) Next() (Frame, error) {
	if err := d.skipHeartbeats(); err != nil {
		return Frame{}, err
	}

	line, err := d.readLine("")
	if err != nil {
		return Frame{}, err
	}
	cmd := Command(line)
	if !cmd.Known() {
		return Frame{}, protocolErrorf(KindUnknownCommand, "", "unknown command %q", string(line))
	}

	f := Frame{Command: cmd}
	for {
		line, err := d.readLine(cmd)
		if err != nil {
			return Frame{}, err
		}
		if len(line) == 0 {
			break
		}
		if len(f.Headers) >= d.limits.MaxHeaderLines {
			return Frame{}, protocolErrorf(KindFrameTooLarge, cmd, "more than %d headers", d.limits.MaxHeaderLines)
		}
		idx := bytes.IndexByte(line, colon)
		if idx < 0 {
			return Frame{}, protocolErrorf(KindMalformedFrame, cmd, "header line without ':' %q", string(line))
		}
		key, value := string(line[:idx]), string(line[idx+1:])
		if cmd.escapes() {
			if key, err = unescape(key); err != nil {
				return Frame{}, wrapProtocolError(KindMalformedFrame, cmd, "header key", err)
			}
			if value, err = unescape(value); err != nil {
				return Frame{}, wrapProtocolError(KindMalformedFrame, cmd, "header value", err)
			}
		}
		f.Headers.Add(key, value)
	}

	body, err := d.readBody(f)
	if err != nil {
		return Frame{}, err
	}
	f.Body = body
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (d *Decoder) skipHeartbeats() error {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case newline:
			continue
		case cr:
			next, err := d.r.ReadByte()
			if err != nil {
				return d.truncated("", err)
			}
			if next != newline {
				return protocolErrorf(KindMalformedFrame, "", "bare carriage return between frames")
			}
			continue
		default:
			return d.r.UnreadByte()
		}
	}
}

func (d *Decoder) readLine(cmd Command) ([]byte, error) {
	var line []byte
	for {
		chunk, err := d.r.ReadSlice(newline)
		if len(line)+len(chunk) > d.limits.MaxLineBytes {
			return nil, protocolErrorf(KindFrameTooLarge, cmd, "line exceeds %d bytes", d.limits.MaxLineBytes)
		}
		line = append(line, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, d.truncated(cmd, err)
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == cr {
		line = line[:n-1]
	}
	return line, nil
}

func (d *Decoder) readBody(f Frame) ([]byte, error) {
	raw, ok := f.Headers.Lookup(HdrContentLength)
	if !ok {
		return d.readBodyUntilNUL(f.Command)
	}

	n, err := parseContentLength(raw)
	if err != nil {
		return nil, wrapProtocolError(KindMalformedFrame, f.Command, "", err)
	}
	if n > d.limits.MaxBodyBytes {
		return nil, protocolErrorf(KindFrameTooLarge, f.Command, "content-length=%d max=%d", n, d.limits.MaxBodyBytes)
	}
	body := make([]byte, n)
	read, err := io.ReadFull(d.r, body)
	if err != nil {
		if isEOF(err) && bytes.IndexByte(body[:read], nul) >= 0 {
			return nil, protocolErrorf(KindLengthMismatch, f.Command, "content-length=%d but frame ended after %d bytes", n, bytes.IndexByte(body[:read], nul))
		}
		return nil, d.truncated(f.Command, err)
	}
	term, err := d.r.ReadByte()
	if err != nil {
		if isEOF(err) && bytes.IndexByte(body, nul) >= 0 {
			return nil, protocolErrorf(KindLengthMismatch, f.Command, "content-length=%d exceeds body", n)
		}
		return nil, d.truncated(f.Command, err)
	}
	if term != nul {
		return nil, protocolErrorf(KindLengthMismatch, f.Command, "content-length=%d not followed by NUL", n)
	}
	if n == 0 {
		return nil, nil
	}
	return body, nil
}

func (d *Decoder) readBodyUntilNUL(cmd Command) ([]byte, error) {
	var body []byte
	for {
		chunk, err := d.r.ReadSlice(nul)
		if len(body)+len(chunk) > d.limits.MaxBodyBytes+1 {
			return nil, protocolErrorf(KindFrameTooLarge, cmd, "body exceeds %d bytes", d.limits.MaxBodyBytes)
		}
		body = append(body, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, d.truncated(cmd, err)
	}
	body = body[:len(body)-1]
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

func (d *Decoder) truncated(cmd Command, err error) error {
	if isEOF(err) {
		return wrapProtocolError(KindMalformedFrame, cmd, "stream ended mid-frame", io.ErrUnexpectedEOF)
	}
	return err
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

var headerEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\r", "\\r",
	"\n", "\\n",
	":", "\\c",
)

func escape(s string) string {
	if !strings.ContainsAny(s, "\\\r\n:") {
		return s
	}
	return headerEscaper.Replace(s)
}

var errBadEscape = errors.New("undefined escape sequence")

func unescape(s string) (string, error) {
	if strings.IndexByte(s, '\\') < 0 {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", errBadEscape
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", errBadEscape
		}
	}
	return b.String(), nil
}
