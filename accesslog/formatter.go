package accesslog

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

// ErrInvalidFormat is returned for format strings that cannot be parsed.
var ErrInvalidFormat = errors.New("invalid access log format")

const clfTime = "[02/Jan/2006:15:04:05 -0700]"

type valueFunc func(rec *Record) string

// Formatter renders records according to a parsed format string.
type Formatter struct {
	format     string
	serverName string
	parts      []valueFunc
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithServerName sets the canonical server name used by %v. Without it the
// request host is used.
func WithServerName(name string) Option {
	return func(f *Formatter) { f.serverName = name }
}

// NewFormatter parses format, which is either a name from Formats or an
// Apache LogFormat string.
func NewFormatter(format string, opts ...Option) (*Formatter, error) {
	if named, ok := Formats[format]; ok {
		format = named
	}
	f := &Formatter{format: format}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.parse(); err != nil {
		return nil, err
	}
	return f, nil
}

// String returns the expanded format string.
func (f *Formatter) String() string { return f.format }

// Format renders rec. It never fails; missing values render as "-".
func (f *Formatter) Format(rec Record) string {
	var b strings.Builder
	for _, p := range f.parts {
		b.WriteString(p(&rec))
	}
	return b.String()
}

func literal(s string) valueFunc {
	return func(*Record) string { return s }
}

func (f *Formatter) parse() error {
	s := f.format
	for i := 0; i < len(s); {
		if s[i] != '%' {
			j := strings.IndexByte(s[i:], '%')
			if j < 0 {
				j = len(s) - i
			}
			f.parts = append(f.parts, literal(s[i:i+j]))
			i += j
			continue
		}

		start := i
		i++
		if i >= len(s) {
			return fmt.Errorf("%w: trailing %% in %q", ErrInvalidFormat, s)
		}
		if s[i] == '%' {
			f.parts = append(f.parts, literal("%"))
			i++
			continue
		}

		negate := false
		if s[i] == '!' {
			negate = true
			i++
		}
		codesStart := i
		for i < len(s) && (s[i] == ',' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		codes, err := parseCodes(s[codesStart:i])
		if err != nil {
			return fmt.Errorf("%w: %s in %q", ErrInvalidFormat, err, s[start:i])
		}
		if negate && len(codes) == 0 {
			return fmt.Errorf("%w: %q negates no status codes", ErrInvalidFormat, s[start:i])
		}

		arg := ""
		if i < len(s) && s[i] == '{' {
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return fmt.Errorf("%w: unterminated { in %q", ErrInvalidFormat, s[start:])
			}
			arg = s[i+1 : i+end]
			i += end + 1
		}
		for i < len(s) && (s[i] == '<' || s[i] == '>') {
			i++
		}
		if i >= len(s) {
			return fmt.Errorf("%w: missing directive in %q", ErrInvalidFormat, s[start:])
		}

		letter := s[i]
		i++
		fn, err := f.directive(letter, arg)
		if err != nil {
			return fmt.Errorf("%w: %%%c: %v", ErrInvalidFormat, letter, err)
		}
		if len(codes) > 0 {
			fn = conditional(fn, codes, negate)
		}
		f.parts = append(f.parts, fn)
	}
	return nil
}

func parseCodes(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var codes []int
	for _, c := range strings.Split(s, ",") {
		n, err := strconv.Atoi(c)
		if err != nil || n < 100 || n > 999 {
			return nil, fmt.Errorf("bad status code %q", c)
		}
		codes = append(codes, n)
	}
	return codes, nil
}

// conditional renders fn only when the status is (or, negated, is not) one
// of codes.
func conditional(fn valueFunc, codes []int, negate bool) valueFunc {
	return func(rec *Record) string {
		match := false
		for _, c := range codes {
			if c == rec.Status {
				match = true
				break
			}
		}
		if match == negate {
			return "-"
		}
		return fn(rec)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (f *Formatter) directive(letter byte, arg string) (valueFunc, error) {
	switch letter {
	case 'a':
		if arg != "" && arg != "c" {
			return nil, fmt.Errorf("unknown argument %q", arg)
		}
		return func(rec *Record) string { return dash(remoteIP(rec.Request)) }, nil
	case 'h':
		return func(rec *Record) string { return dash(remoteIP(rec.Request)) }, nil
	case 'A':
		return func(rec *Record) string {
			host, _ := localAddr(rec.Request)
			return dash(host)
		}, nil
	case 'B':
		return func(rec *Record) string { return strconv.FormatInt(rec.BodySize, 10) }, nil
	case 'b':
		return func(rec *Record) string {
			if rec.BodySize == 0 {
				return "-"
			}
			return strconv.FormatInt(rec.BodySize, 10)
		}, nil
	case 'C':
		if arg == "" {
			return nil, errors.New("cookie name required")
		}
		return func(rec *Record) string {
			c, err := rec.Request.Cookie(arg)
			if err != nil {
				return "-"
			}
			return dash(escape(c.Value))
		}, nil
	case 'D':
		return func(rec *Record) string { return strconv.FormatInt(rec.End.Sub(rec.Start).Microseconds(), 10) }, nil
	case 'e':
		if arg == "" {
			return nil, errors.New("variable name required")
		}
		return func(*Record) string { return dash(escape(os.Getenv(arg))) }, nil
	case 'f':
		return func(rec *Record) string { return dash(rec.Filename) }, nil
	case 'H':
		return func(rec *Record) string { return rec.Request.Proto }, nil
	case 'i':
		if arg == "" {
			return nil, errors.New("header name required")
		}
		return func(rec *Record) string { return dash(escape(strings.Join(rec.Request.Header.Values(arg), ", "))) }, nil
	case 'k':
		return literal("0"), nil
	case 'l':
		return literal("-"), nil
	case 'L':
		return func(rec *Record) string { return dash(rec.RequestID) }, nil
	case 'm':
		return func(rec *Record) string { return rec.Request.Method }, nil
	case 'n':
		return literal("-"), nil
	case 'o':
		if arg == "" {
			return nil, errors.New("header name required")
		}
		return func(rec *Record) string {
			if rec.Header == nil {
				return "-"
			}
			return dash(escape(strings.Join(rec.Header.Values(arg), ", ")))
		}, nil
	case 'p':
		return portDirective(arg)
	case 'P':
		switch arg {
		case "", "pid":
			return func(*Record) string { return strconv.Itoa(os.Getpid()) }, nil
		case "tid":
			return func(*Record) string { return strconv.Itoa(threadID()) }, nil
		case "hextid":
			return func(*Record) string { return strconv.FormatInt(int64(threadID()), 16) }, nil
		}
		return nil, fmt.Errorf("unknown argument %q", arg)
	case 'q':
		return func(rec *Record) string {
			if rec.Request.URL.RawQuery == "" {
				return ""
			}
			return "?" + escape(rec.Request.URL.RawQuery)
		}, nil
	case 'r':
		return func(rec *Record) string { return escape(requestLine(rec.Request)) }, nil
	case 'R':
		return func(rec *Record) string { return dash(rec.Handler) }, nil
	case 's':
		return func(rec *Record) string { return strconv.Itoa(rec.Status) }, nil
	case 't':
		return timeDirective(arg)
	case 'T':
		return durationDirective(arg)
	case 'u':
		return func(rec *Record) string {
			user, _, ok := rec.Request.BasicAuth()
			if !ok {
				return "-"
			}
			return dash(escape(user))
		}, nil
	case 'U':
		return func(rec *Record) string { return dash(escape(rec.Request.URL.Path)) }, nil
	case 'v':
		return func(rec *Record) string {
			if f.serverName != "" {
				return f.serverName
			}
			return dash(escape(hostOnly(rec.Request.Host)))
		}, nil
	case 'V':
		return func(rec *Record) string { return dash(escape(hostOnly(rec.Request.Host))) }, nil
	case 'X':
		return func(rec *Record) string {
			switch {
			case rec.Aborted:
				return "X"
			case rec.Request.Close, strings.EqualFold(rec.Header.Get("Connection"), "close"):
				return "-"
			}
			return "+"
		}, nil
	case 'I':
		return func(rec *Record) string { return strconv.FormatInt(bytesIn(rec), 10) }, nil
	case 'O':
		return func(rec *Record) string { return strconv.FormatInt(bytesOut(rec), 10) }, nil
	case 'S':
		return func(rec *Record) string { return strconv.FormatInt(bytesIn(rec)+bytesOut(rec), 10) }, nil
	}
	return nil, errors.New("unknown directive")
}

func portDirective(arg string) (valueFunc, error) {
	switch arg {
	case "", "canonical":
		return func(rec *Record) string {
			if _, port, err := net.SplitHostPort(rec.Request.Host); err == nil {
				return port
			}
			_, port := localAddr(rec.Request)
			return dash(port)
		}, nil
	case "local":
		return func(rec *Record) string {
			_, port := localAddr(rec.Request)
			return dash(port)
		}, nil
	case "remote":
		return func(rec *Record) string {
			_, port, err := net.SplitHostPort(rec.Request.RemoteAddr)
			if err != nil {
				return "-"
			}
			return port
		}, nil
	}
	return nil, fmt.Errorf("unknown argument %q", arg)
}

func timeDirective(arg string) (valueFunc, error) {
	pick := func(rec *Record) time.Time { return rec.Start }
	switch {
	case strings.HasPrefix(arg, "begin:"):
		arg = strings.TrimPrefix(arg, "begin:")
	case strings.HasPrefix(arg, "end:"):
		arg = strings.TrimPrefix(arg, "end:")
		pick = func(rec *Record) time.Time { return rec.End }
	}

	switch arg {
	case "":
		return func(rec *Record) string { return pick(rec).Format(clfTime) }, nil
	case "sec":
		return func(rec *Record) string { return strconv.FormatInt(pick(rec).Unix(), 10) }, nil
	case "msec":
		return func(rec *Record) string { return strconv.FormatInt(pick(rec).UnixMilli(), 10) }, nil
	case "usec":
		return func(rec *Record) string { return strconv.FormatInt(pick(rec).UnixMicro(), 10) }, nil
	case "msec_frac":
		return func(rec *Record) string { return fmt.Sprintf("%03d", pick(rec).Nanosecond()/int(time.Millisecond)) }, nil
	case "usec_frac":
		return func(rec *Record) string { return fmt.Sprintf("%06d", pick(rec).Nanosecond()/int(time.Microsecond)) }, nil
	}

	p, err := strftime.New(arg)
	if err != nil {
		return nil, err
	}
	return func(rec *Record) string { return p.FormatString(pick(rec)) }, nil
}

func durationDirective(arg string) (valueFunc, error) {
	switch arg {
	case "", "s":
		return func(rec *Record) string { return strconv.FormatInt(int64(rec.End.Sub(rec.Start)/time.Second), 10) }, nil
	case "ms":
		return func(rec *Record) string { return strconv.FormatInt(rec.End.Sub(rec.Start).Milliseconds(), 10) }, nil
	case "us":
		return func(rec *Record) string { return strconv.FormatInt(rec.End.Sub(rec.Start).Microseconds(), 10) }, nil
	}
	return nil, fmt.Errorf("unknown unit %q", arg)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func localAddr(r *http.Request) (host, port string) {
	addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	if !ok {
		return "", ""
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", ""
	}
	return host, port
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func requestLine(r *http.Request) string {
	uri := r.RequestURI
	if uri == "" {
		uri = r.URL.RequestURI()
	}
	return r.Method + " " + uri + " " + r.Proto
}

func headerBytes(h http.Header) int64 {
	var n int64
	for name, values := range h {
		for _, v := range values {
			n += int64(len(name) + len(": ") + len(v) + len("\r\n"))
		}
	}
	return n
}

// bytesIn approximates the request size on the wire: request line, headers
// and body.
func bytesIn(rec *Record) int64 {
	r := rec.Request
	n := int64(len(requestLine(r))+2) + headerBytes(r.Header) + 2
	if r.Host != "" && r.Header.Get("Host") == "" {
		n += int64(len("Host: ") + len(r.Host) + 2)
	}
	if r.ContentLength > 0 {
		n += r.ContentLength
	}
	return n
}

// bytesOut approximates the response size on the wire: status line,
// headers and body.
func bytesOut(rec *Record) int64 {
	status := fmt.Sprintf("%s %d %s\r\n", rec.Request.Proto, rec.Status, http.StatusText(rec.Status))
	return int64(len(status)) + headerBytes(rec.Header) + 2 + rec.BodySize
}

// escape quotes backslashes, double quotes and non-printable bytes the way
// Apache does for client supplied values.
func escape(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '"' || c == '\\' || c < 0x20 || c >= 0x7f {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(&b, `\x%02x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
