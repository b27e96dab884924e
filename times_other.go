// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build !unix

package main

import (
	"os"
	"time"
)

func restoreTimes(path string, atime, mtime time.Time) error {
	return os.Chtimes(path, atime, mtime)
}
