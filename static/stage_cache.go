package static

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// StatCacheRefresher clears the stat cache once interval has elapsed since
// the last clear. An interval below one second clears on every request.
type StatCacheRefresher struct {
	cache    *StatCache
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	lastCleared time.Time
}

func NewStatCacheRefresher(cache *StatCache, interval time.Duration, now func() time.Time) *StatCacheRefresher {
	if now == nil {
		now = time.Now
	}
	return &StatCacheRefresher{cache: cache, interval: interval, now: now}
}

func (s *StatCacheRefresher) Process(req *http.Request, filename string, next *Queue) *Response {
	now := s.now()

	s.mu.Lock()
	if s.interval < time.Second || !now.Before(s.lastCleared.Add(s.interval)) {
		s.cache.Clear()
		s.lastCleared = now
	}
	s.mu.Unlock()

	return next.Invoke(req, filename)
}

// CacheControl adds the directives of the first rule matching the request
// path.
func CacheControl(rules []CacheControlRule) Stage {
	return StageFunc(func(req *http.Request, filename string, next *Queue) *Response {
		resp := next.Invoke(req, filename)
		path := req.URL.Path
		for _, rule := range rules {
			if rule.Pattern.MatchString(path) {
				resp.SetHeader("Cache-Control", strings.Join(rule.Directives, ", "))
				break
			}
		}
		return resp
	})
}

// LastModified adds Last-Modified for enabled paths and answers 304 when
// If-Modified-Since is not earlier than it.
func LastModified(rules []BoolRule, stat *StatCache) Stage {
	return StageFunc(func(req *http.Request, filename string, next *Queue) *Response {
		resp := next.Invoke(req, filename)
		if !matchBool(rules, req.URL.Path) {
			return resp
		}

		var mtime time.Time
		if info, err := stat.Stat(filename); err == nil {
			mtime = info.ModTime()
		} else {
			mtime = time.Unix(0, 0)
		}
		mtime = mtime.UTC().Truncate(time.Second)
		resp.SetHeader("Last-Modified", mtime.Format(http.TimeFormat))

		since := req.Header.Get("If-Modified-Since")
		if since == "" {
			return resp
		}
		t, err := http.ParseTime(since)
		if err != nil {
			return resp
		}
		if !t.Before(mtime) {
			resp.Status = http.StatusNotModified
			resp.DisableContent()
		}
		return resp
	})
}

// ETagValidation selects how entity tags are computed.
type ETagValidation string

const (
	// ETagWeak derives W/"<hex mtime>-<hex size>" from file metadata.
	ETagWeak ETagValidation = "weak"
	// ETagStrong is the quoted md5 of the file contents.
	ETagStrong ETagValidation = "strong"
)

// ParseETagValidation accepts "weak", "strong" or "" (weak).
func ParseETagValidation(s string) (ETagValidation, error) {
	switch ETagValidation(strings.ToLower(strings.TrimSpace(s))) {
	case "", ETagWeak:
		return ETagWeak, nil
	case ETagStrong:
		return ETagStrong, nil
	}
	return "", &ConfigError{Setting: "etag_validation", Value: s, Err: ErrInvalidETagMode}
}

// ETag adds an entity tag for enabled paths and answers 304 when the client
// echoes it through If-Match or, absent that, If-None-Match.
func ETag(rules []BoolRule, mode ETagValidation, stat *StatCache) Stage {
	return StageFunc(func(req *http.Request, filename string, next *Queue) *Response {
		resp := next.Invoke(req, filename)
		if !matchBool(rules, req.URL.Path) {
			return resp
		}

		etag := computeETag(filename, mode, stat)
		if etag == "" {
			return resp
		}
		resp.SetHeader("ETag", etag)

		header := "If-Match"
		if req.Header.Get(header) == "" {
			header = "If-None-Match"
		}
		for _, value := range req.Header.Values(header) {
			for _, candidate := range strings.Split(value, ",") {
				if strings.TrimSpace(candidate) == etag {
					resp.Status = http.StatusNotModified
					resp.DisableContent()
					return resp
				}
			}
		}
		return resp
	})
}

func computeETag(filename string, mode ETagValidation, stat *StatCache) string {
	if mode == ETagStrong {
		f, err := os.Open(filename)
		if err != nil {
			return ""
		}
		defer f.Close()

		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return ""
		}
		return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
	}

	info, err := stat.Stat(filename)
	if err != nil {
		return ""
	}
	mtime, size := info.ModTime().Unix(), info.Size()
	if mtime == 0 || size == 0 {
		return ""
	}
	return fmt.Sprintf(`W/"%x-%x"`, mtime, size)
}
