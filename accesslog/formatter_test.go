package accesslog

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	begin = time.Date(2024, time.March, 10, 12, 30, 45, 123456000, time.UTC)
	end   = begin.Add(1500 * time.Millisecond)
)

func testRecord() Record {
	req := httptest.NewRequest(http.MethodGet, "/content.txt?v=1", nil)
	req.Host = "example.com:8080"
	req.RemoteAddr = "192.0.2.7:54321"
	req.Header.Set("Referer", "http://ref.example/")
	req.Header.Set("User-Agent", `curl/8.0 "quoted"`)
	req.Header.Set("Cookie", "session=abc123")
	req.SetBasicAuth("alice", "secret")
	local := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 8080}
	req = req.WithContext(context.WithValue(req.Context(), http.LocalAddrContextKey, local))

	return Record{
		Request:   req,
		Start:     begin,
		End:       end,
		Status:    http.StatusOK,
		Header:    http.Header{"Content-Type": {"text/plain"}, "Etag": {`W/"1-2"`}},
		BodySize:  18,
		Filename:  "/srv/public/content.txt",
		Handler:   HandlerStatic,
		RequestID: "req-1",
	}
}

func render(t *testing.T, format string, rec Record, opts ...Option) string {
	t.Helper()
	f, err := NewFormatter(format, opts...)
	require.NoError(t, err)
	return f.Format(rec)
}

func TestCommonFormat(t *testing.T) {
	got := render(t, "common", testRecord())
	assert.Equal(t, `192.0.2.7 - alice [10/Mar/2024:12:30:45 +0000] "GET /content.txt?v=1 HTTP/1.1" 200 18`, got)
}

func TestCombinedFormat(t *testing.T) {
	got := render(t, "combined", testRecord())
	assert.True(t, strings.HasSuffix(got, `200 18 "http://ref.example/" "curl/8.0 \"quoted\""`), got)
}

func TestDirectives(t *testing.T) {
	rec := testRecord()
	tests := []struct {
		format string
		want   string
	}{
		{"%%", "%"},
		{"%a %{c}a %h", "192.0.2.7 192.0.2.7 192.0.2.7"},
		{"%A", "10.0.0.1"},
		{"%B %b", "18 18"},
		{"%{session}C %{missing}C", "abc123 -"},
		{"%D", "1500000"},
		{"%f", "/srv/public/content.txt"},
		{"%H %m", "HTTP/1.1 GET"},
		{"%{Referer}i %{X-None}i", "http://ref.example/ -"},
		{"%k %l %{note}n", "0 - -"},
		{"%L", "req-1"},
		{"%{Content-Type}o %{ETag}o", `text/plain W/\"1-2\"`},
		{"%p %{local}p %{remote}p", "8080 8080 54321"},
		{"%q", "?v=1"},
		{"%r", "GET /content.txt?v=1 HTTP/1.1"},
		{"%R", "static-file"},
		{"%s %>s %<s", "200 200 200"},
		{"%t", "[10/Mar/2024:12:30:45 +0000]"},
		{"%{end:sec}t", strconv.FormatInt(end.Unix(), 10)},
		{"%{msec}t", strconv.FormatInt(begin.UnixMilli(), 10)},
		{"%{usec}t", strconv.FormatInt(begin.UnixMicro(), 10)},
		{"%{msec_frac}t %{usec_frac}t", "123 123456"},
		{"%{%Y-%m-%d %H:%M:%S}t", "2024-03-10 12:30:45"},
		{"%{end:%H:%M:%S}t", "12:30:46"},
		{"%T %{ms}T %{us}T %{s}T", "1 1500 1500000 1"},
		{"%u", "alice"},
		{"%U", "/content.txt"},
		{"%v %V", "example.com example.com"},
		{"%X", "+"},
		{"[%m]", "[GET]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, render(t, tt.format, rec), tt.format)
	}
}

func TestEmptyValues(t *testing.T) {
	rec := testRecord()
	rec.Request = httptest.NewRequest(http.MethodPost, "/api", nil)
	rec.BodySize = 0
	rec.Filename = ""
	rec.RequestID = ""

	assert.Equal(t, "0 - - - - ", render(t, "%B %b %f %u %L %q", rec))
}

func TestServerNameOption(t *testing.T) {
	assert.Equal(t, "www.example.org", render(t, "%v", testRecord(), WithServerName("www.example.org")))
}

func TestEnvDirective(t *testing.T) {
	t.Setenv("ACCESSLOG_TEST_VAR", "on")
	assert.Equal(t, "on -", render(t, "%{ACCESSLOG_TEST_VAR}e %{ACCESSLOG_TEST_UNSET}e", testRecord()))
}

func TestPidDirective(t *testing.T) {
	got := render(t, "%P %{pid}P %{tid}P %{hextid}P", testRecord())
	fields := strings.Fields(got)
	require.Len(t, fields, 4)
	assert.Equal(t, fields[0], fields[1])
	_, err := strconv.ParseInt(fields[3], 16, 64)
	assert.NoError(t, err)
}

func TestStatusConditions(t *testing.T) {
	rec := testRecord()

	assert.Equal(t, "-", render(t, "%400,501{Referer}i", rec))
	assert.Equal(t, "http://ref.example/", render(t, "%200,304{Referer}i", rec))
	assert.Equal(t, "-", render(t, "%!200,304{Referer}i", rec))

	rec.Status = http.StatusNotModified
	assert.Equal(t, "http://ref.example/", render(t, "%!200{Referer}i", rec))
}

func TestConnectionStatus(t *testing.T) {
	rec := testRecord()
	rec.Header.Set("Connection", "close")
	assert.Equal(t, "-", render(t, "%X", rec))

	rec = testRecord()
	rec.Aborted = true
	assert.Equal(t, "X", render(t, "%X", rec))
}

func TestByteCounts(t *testing.T) {
	rec := testRecord()
	in, err := strconv.Atoi(render(t, "%I", rec))
	require.NoError(t, err)
	out, err := strconv.Atoi(render(t, "%O", rec))
	require.NoError(t, err)
	sum, err := strconv.Atoi(render(t, "%S", rec))
	require.NoError(t, err)

	assert.Greater(t, in, len("GET /content.txt?v=1 HTTP/1.1"))
	assert.Greater(t, out, int(rec.BodySize))
	assert.Equal(t, in+out, sum)
}

func TestEscapesControlCharacters(t *testing.T) {
	rec := testRecord()
	rec.Request.Header.Set("X-Evil", "a\tb\x01c\\")
	assert.Equal(t, `a\tb\x01c\\`, render(t, "%{X-Evil}i", rec))
}

func TestInvalidFormats(t *testing.T) {
	for _, format := range []string{
		"%",
		"%{Referer",
		"%Z",
		"%{}i",
		"%{}o",
		"%{}C",
		"%{bogus}p",
		"%{bogus}T",
		"%{bogus}P",
		"%{x}a",
		"%!{Referer}i",
		"%99{Referer}i",
		"%{Referer}",
	} {
		_, err := NewFormatter(format)
		assert.ErrorIs(t, err, ErrInvalidFormat, format)
	}
}

func TestNamedFormatsParse(t *testing.T) {
	for name, format := range Formats {
		f, err := NewFormatter(name)
		require.NoError(t, err, name)
		assert.Equal(t, format, f.String())
		assert.NotEmpty(t, f.Format(testRecord()))
	}
}
