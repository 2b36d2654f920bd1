// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleWindow is how long preserveArtifacts waits for a working
// directory's filesystem events to go quiet before copying matched
// files, so a terminate that races a still-flushing write doesn't
// preserve a half-written artifact.
const settleWindow = 250 * time.Millisecond

// preserveArtifacts walks workDir and copies every file whose
// workDir-relative path matches one of patterns into destDir under the
// same relative path, first waiting for workDir's writes to settle: a
// terminating assistant may still be flushing its last file, and
// readiness here means no write within the last settleWindow. Patterns
// match slash-separated relative paths; a "**" segment matches any
// number of intermediate directories (so "output/**" reaches nested
// files), and a bare basename pattern like "*.diff" matches at any
// depth.
func preserveArtifacts(workDir, destDir string, patterns []string) error {
	if _, err := os.Stat(workDir); os.IsNotExist(err) {
		return nil
	}

	if err := awaitSettle(workDir, settleWindow); err != nil {
		// Watching is best-effort; a watch failure should never block
		// artifact preservation outright.
		_ = err
	}

	return filepath.WalkDir(workDir, func(src string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(workDir, src)
		if err != nil {
			return err
		}
		if !matchesAny(patterns, filepath.ToSlash(rel)) {
			return nil
		}

		dst := filepath.Join(destDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		return copyFile(src, dst)
	})
}

func matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if matchPattern(pattern, rel) {
			return true
		}
	}
	return false
}

// matchPattern matches a slash-separated relative path against a
// glob-style pattern. Each pattern segment is a path.Match glob; a
// "**" segment matches zero or more path segments. A single-segment
// pattern with no "/" matches against the file's basename, so plain
// "*.diff" finds diffs at any depth.
func matchPattern(pattern, rel string) bool {
	if !strings.Contains(pattern, "/") {
		ok, err := path.Match(pattern, path.Base(rel))
		return err == nil && ok
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) == 0 {
		return len(segs) == 0
	}

	if pattern[0] == "**" {
		// "**" may swallow zero or more leading segments.
		for skip := 0; skip <= len(segs); skip++ {
			if matchSegments(pattern[1:], segs[skip:]) {
				return true
			}
		}
		return false
	}

	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segs[1:])
}

// awaitSettle watches dir for filesystem events, returning once window
// has elapsed with no event observed, or immediately if dir cannot be
// watched (e.g. it does not exist).
func awaitSettle(dir string, window time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		select {
		case <-watcher.Events:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(window)
		case <-watcher.Errors:
			return nil
		case <-timer.C:
			return nil
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
