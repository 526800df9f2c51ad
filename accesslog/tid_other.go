//go:build !linux

package accesslog

import "os"

func threadID() int { return os.Getpid() }
