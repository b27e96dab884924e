// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/archaix/xenixtract/internal/xenix"
)

// extractTree materializes a reconstructed directory tree under outDir.
// Per-file problems are logged and skipped; only the engine's fatal
// conditions (cycle, implausible size) propagate. Partial output is the
// point of a recovery tool, so nothing is rolled back on error.
func extractTree(fsys *xenix.FS, root *xenix.Node, outDir string, include []string, log *logrus.Logger) error {
	if err := os.MkdirAll(outDir, 0o777); err != nil {
		return err
	}
	return extractInto(fsys, root, outDir, "", include, log)
}

func extractInto(fsys *xenix.FS, dir *xenix.Node, outPath, treePath string, include []string, log *logrus.Logger) error {
	for _, child := range dir.Children {
		childTree := treePath + child.Name
		if child.IsDir() {
			target := filepath.Join(outPath, child.Name)
			if err := os.MkdirAll(target, 0o777); err != nil {
				log.WithFields(logrus.Fields{"path": childTree, "err": err}).Error("cannot create directory")
				continue
			}
			if err := extractInto(fsys, child, target, childTree+"/", include, log); err != nil {
				return err
			}
			// after the children, so their writes don't bump the mtime
			restoreNodeTimes(target, child, log)
			log.WithFields(logrus.Fields{
				"path":  childTree,
				"mtime": child.Mtime,
			}).Info("directory")
			continue
		}

		if !includes(include, childTree) {
			continue
		}
		content, err := fsys.ReadContents(child.Inode)
		if err != nil {
			if errors.Is(err, xenix.ErrImplausibleSize) {
				return err
			}
			log.WithFields(logrus.Fields{"path": childTree, "err": err}).Error("cannot reconstruct file")
			continue
		}

		target := uniquePath(filepath.Join(outPath, child.Name), log, childTree)
		if err := os.WriteFile(target, content, 0o666); err != nil {
			log.WithFields(logrus.Fields{"path": childTree, "err": err}).Error("cannot write file")
			continue
		}
		restoreNodeTimes(target, child, log)

		log.WithFields(logrus.Fields{
			"path":  childTree,
			"inode": child.Num,
			"size":  len(content),
			"mtime": child.Mtime,
			"xxh64": xxhash.Sum64(content),
		}).Info("file")
	}
	return nil
}

// uniquePath appends underscores until the name is free. Old volumes
// distinguish names only in the first 14 bytes and the cleaning pass can
// collapse distinct raw names, so collisions are expected, not errors.
func uniquePath(p string, log *logrus.Logger, treePath string) string {
	out := p
	for {
		if _, err := os.Lstat(out); errors.Is(err, fs.ErrNotExist) {
			break
		}
		out += "_"
	}
	if out != p {
		log.WithFields(logrus.Fields{"path": treePath, "renamed": filepath.Base(out)}).Warn("name collision")
	}
	return out
}

func includes(patterns []string, treePath string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, treePath); err == nil && ok {
			return true
		}
	}
	return false
}

func restoreNodeTimes(target string, n *xenix.Node, log *logrus.Logger) {
	atime := n.Atime
	if atime.IsZero() || atime.Unix() == 0 {
		atime = n.Ctime // create time stands in when no access time survived
	}
	if err := restoreTimes(target, atime, n.Mtime); err != nil {
		log.WithFields(logrus.Fields{"path": target, "err": err}).Warn("cannot restore timestamps")
	}
}

// treeSummary counts what a decode found, for the closing log line.
func treeSummary(root *xenix.Node) (dirs, files int, bytes int64) {
	for _, c := range root.Children {
		if c.IsDir() {
			d, f, b := treeSummary(c)
			dirs, files, bytes = dirs+d+1, files+f, bytes+b
		} else {
			files++
			bytes += int64(c.Size)
		}
	}
	return
}
