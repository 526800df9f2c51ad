package static

import (
	"net/http"
	"path/filepath"
	"strings"
	"sync"
)

// AllowedMethods is the Allow header value for static resources.
const AllowedMethods = "GET, HEAD, OPTIONS"

// ContentTypeFilter fails the request unless filename is an existing regular
// file with a known extension. Resolved types are cached per filename.
type ContentTypeFilter struct {
	types map[string]string
	stat  *StatCache

	mu    sync.RWMutex
	cache map[string]string
}

// NewContentTypeFilter uses types, or DefaultContentTypes when types is nil.
func NewContentTypeFilter(types map[string]string, stat *StatCache) *ContentTypeFilter {
	if types == nil {
		types = DefaultContentTypes
	}
	if stat == nil {
		stat = NewStatCache()
	}
	return &ContentTypeFilter{
		types: types,
		stat:  stat,
		cache: make(map[string]string),
	}
}

func (f *ContentTypeFilter) Process(req *http.Request, filename string, next *Queue) *Response {
	contentType, ok := f.contentType(filename)
	if !ok {
		return newFailure()
	}

	resp := next.Invoke(req, filename)
	if !resp.IsFailure() {
		resp.SetHeader("Content-Type", contentType)
	}
	return resp
}

func (f *ContentTypeFilter) contentType(filename string) (string, bool) {
	info, err := f.stat.Stat(filename)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}

	f.mu.RLock()
	t, ok := f.cache[filename]
	f.mu.RUnlock()
	if ok {
		return t, true
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	t, ok = f.types[ext]
	if !ok {
		return "", false
	}

	f.mu.Lock()
	f.cache[filename] = t
	f.mu.Unlock()
	return t, true
}

// MethodNotAllowed answers 405 for anything but GET, HEAD and OPTIONS.
func MethodNotAllowed() Stage {
	return StageFunc(func(req *http.Request, filename string, next *Queue) *Response {
		switch req.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return next.Invoke(req, filename)
		}
		resp := NewResponse()
		resp.Status = http.StatusMethodNotAllowed
		resp.SetHeader("Allow", AllowedMethods)
		resp.DisableContent()
		return resp
	})
}

// OptionsResponder answers OPTIONS with the Allow header and no body.
func OptionsResponder() Stage {
	return StageFunc(func(req *http.Request, filename string, next *Queue) *Response {
		resp := next.Invoke(req, filename)
		if req.Method != http.MethodOptions {
			return resp
		}
		resp.DisableContent()
		resp.SetHeader("Allow", AllowedMethods)
		return resp
	})
}

// HeadResponder keeps the headers of the equivalent GET but drops the body.
func HeadResponder() Stage {
	return StageFunc(func(req *http.Request, filename string, next *Queue) *Response {
		resp := next.Invoke(req, filename)
		if req.Method == http.MethodHead {
			resp.DisableContent()
		}
		return resp
	})
}
