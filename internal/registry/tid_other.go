//go:build !linux

package registry

import "os"

func gettid() int { return os.Getpid() }
