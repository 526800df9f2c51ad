package static

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPattern     = errors.New("pattern does not compile")
	ErrInvalidDirective   = errors.New("unknown Cache-Control directive")
	ErrInvalidETagMode    = errors.New("etag validation must be weak or strong")
	ErrInvalidCompression = errors.New("compression level must be between 0 and 9")
	ErrInvalidRoot        = errors.New("document root must be an existing directory")
)

// ConfigError is returned at construction time when a static pipeline
// setting is unusable. It is always fatal.
type ConfigError struct {
	Setting string
	Value   string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("static: %s: %v", e.Setting, e.Err)
	}
	return fmt.Sprintf("static: %s %q: %v", e.Setting, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
