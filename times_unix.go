// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build unix

package main

import (
	"time"

	"golang.org/x/sys/unix"
)

// Unix has no portable way to set a birth time, so the inode's access
// and modification stamps are what gets restored.
func restoreTimes(path string, atime, mtime time.Time) error {
	return unix.UtimesNano(path, []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	})
}
