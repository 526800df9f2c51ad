package static

import (
	"time"
)

// Options configures the default stage list.
type Options struct {
	// ContentTypes overrides DefaultContentTypes when non-nil.
	ContentTypes map[string]string

	// StatCacheInterval is how often the stat cache is cleared. Below one
	// second it is cleared on every request.
	StatCacheInterval time.Duration

	Rules          Rules
	ETagValidation ETagValidation

	// GzipLevel is 0 (off) to 9.
	GzipLevel int

	// StatCache is shared by every stage; one is created when nil.
	StatCache *StatCache

	Now func() time.Time
}

// DefaultStages builds the canonical pipeline: content-type filter, method
// filter, OPTIONS, HEAD, gzip, stat cache refresh, Cache-Control,
// Last-Modified and ETag.
//
// The content-type filter runs first so that requests for paths that are
// not files fall through to the application whatever their method.
func DefaultStages(o Options) ([]Stage, error) {
	gz, err := NewGzipResponder(o.GzipLevel)
	if err != nil {
		return nil, err
	}
	mode := o.ETagValidation
	if mode == "" {
		mode = ETagWeak
	}
	if _, err := ParseETagValidation(string(mode)); err != nil {
		return nil, err
	}
	stat := o.StatCache
	if stat == nil {
		stat = NewStatCache()
	}

	return []Stage{
		NewContentTypeFilter(o.ContentTypes, stat),
		MethodNotAllowed(),
		OptionsResponder(),
		HeadResponder(),
		gz,
		NewStatCacheRefresher(stat, o.StatCacheInterval, o.Now),
		CacheControl(o.Rules.CacheControl),
		LastModified(o.Rules.LastModified, stat),
		ETag(o.Rules.ETag, mode, stat),
	}, nil
}
