// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package coordinator implements multi-instance operations: broadcast
// to a parent's children, sequential/parallel/consensus coordination,
// and team artifact collection across live and terminated descendants.
package coordinator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaycode/overseer/internal/engine"
	"github.com/relaycode/overseer/internal/overseer"
	"github.com/relaycode/overseer/internal/registry"
)

// Mode selects how Coordinate fans a message out across targets.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
	// ModeConsensus runs every target in parallel, exactly like
	// ModeParallel, then hands every reply to a caller-supplied Reducer.
	// There is no built-in voting scheme: what "consensus" means is
	// specific to the caller's domain, so Coordinate never guesses it.
	ModeConsensus Mode = "consensus"
)

// StepResult is one target's outcome from a Coordinate call.
type StepResult struct {
	InstanceID string
	Output     string
	Err        error
}

// Reducer combines a consensus round's per-target results into one
// final value. Required for ModeConsensus, ignored otherwise.
type Reducer func(results []StepResult) (string, error)

// Coordinator fans messages out across a set of instances and collects
// their artifacts once a team's work is done.
type Coordinator struct {
	reg *registry.Registry
	eng *engine.Engine
}

// New builds a Coordinator around an Engine and the Registry it shares
// with it.
func New(reg *registry.Registry, eng *engine.Engine) *Coordinator {
	return &Coordinator{reg: reg, eng: eng}
}

// Broadcast sends the same text to every live child of parentID
// concurrently, tolerating individual send failures rather than
// aborting the whole broadcast; callers inspect the returned per-child
// errors to see who was missed. Terminated children report NotFound.
func (c *Coordinator) Broadcast(ctx context.Context, fromID, parentID, text string) map[string]error {
	children := c.reg.Children(parentID, registry.ListOptions{IncludeTerminated: true})

	results := make(map[string]error, len(children))
	var mu sync.Mutex
	var wg errgroup.Group

	for _, child := range children {
		child := child
		wg.Go(func() error {
			var err error
			if child.State.Terminal() {
				err = overseer.New(overseer.NotFound, "instance already terminated: "+child.ID)
			} else {
				_, err = c.eng.Send(ctx, child.ID, text, engine.SendOptions{FromID: fromID})
			}
			mu.Lock()
			results[child.ID] = err
			mu.Unlock()
			return nil
		})
	}
	_ = wg.Wait()

	return results
}

// Coordinate sends text to every target in targetIDs according to mode
// and returns each target's reply. ModeSequential feeds one target at a
// time, in the exact order given, with each reply becoming input
// context for the next target, failing fast on the first error.
// ModeParallel and ModeConsensus fan out concurrently via errgroup with
// independent per-step timeouts; the call fails only if every target
// failed. ModeConsensus additionally requires a Reducer and returns its
// combined value as the final StepResult's Output with InstanceID set
// to "consensus".
func (c *Coordinator) Coordinate(ctx context.Context, mode Mode, fromID string, targetIDs []string, text string, stepTimeout time.Duration, reduce Reducer) ([]StepResult, error) {
	switch mode {
	case ModeSequential:
		return c.coordinateSequential(ctx, fromID, targetIDs, text, stepTimeout)
	case ModeParallel:
		return c.coordinateParallel(ctx, fromID, targetIDs, text, stepTimeout)
	case ModeConsensus:
		if reduce == nil {
			return nil, overseer.New(overseer.InvalidArgument, "consensus coordination requires a reducer")
		}
		results, err := c.coordinateParallel(ctx, fromID, targetIDs, text, stepTimeout)
		if err != nil {
			return results, err
		}
		combined, err := reduce(results)
		if err != nil {
			return results, overseer.Wrap(overseer.Internal, "consensus reducer failed", err)
		}
		return append(results, StepResult{InstanceID: "consensus", Output: combined}), nil
	default:
		return nil, overseer.New(overseer.InvalidArgument, "unknown coordination mode: "+string(mode)).
			WithHint(`valid modes: "sequential", "parallel", "consensus"`)
	}
}

func (c *Coordinator) coordinateSequential(ctx context.Context, fromID string, targetIDs []string, text string, stepTimeout time.Duration) ([]StepResult, error) {
	results := make([]StepResult, 0, len(targetIDs))

	input := text
	for _, id := range targetIDs {
		reply, err := c.eng.Send(ctx, id, input, engine.SendOptions{
			FromID:       fromID,
			WaitForReply: true,
			Timeout:      stepTimeout,
		})
		if err != nil {
			results = append(results, StepResult{InstanceID: id, Err: err})
			return results, err
		}
		results = append(results, StepResult{InstanceID: id, Output: reply})

		// The next target sees the original task plus what the previous
		// one produced, so a pipeline of instances refines one result.
		input = text + "\n\nPrevious instance's reply:\n" + reply
	}
	return results, nil
}

func (c *Coordinator) coordinateParallel(ctx context.Context, fromID string, targetIDs []string, text string, stepTimeout time.Duration) ([]StepResult, error) {
	results := make([]StepResult, len(targetIDs))
	var wg errgroup.Group

	for i, id := range targetIDs {
		i, id := i, id
		wg.Go(func() error {
			reply, err := c.eng.Send(ctx, id, text, engine.SendOptions{
				FromID:       fromID,
				WaitForReply: true,
				Timeout:      stepTimeout,
			})
			results[i] = StepResult{InstanceID: id, Output: reply, Err: err}
			return nil
		})
	}
	_ = wg.Wait()

	failed := 0
	var lastErr error
	for _, r := range results {
		if r.Err != nil {
			failed++
			lastErr = r.Err
		}
	}
	if len(results) > 0 && failed == len(results) {
		return results, overseer.Wrap(overseer.Internal, "every coordination target failed", lastErr)
	}
	return results, nil
}

// ArtifactSourceKind records where a descendant's artifacts manifest
// entry was actually sourced from.
type ArtifactSourceKind string

const (
	ArtifactSourcePreserved ArtifactSourceKind = "preserved" // <artifacts-root>/<id>/
	ArtifactSourceWorkspace ArtifactSourceKind = "workspace" // live, still-running workspace
	ArtifactSourceAbsent    ArtifactSourceKind = "absent"    // neither was available
)

// ArtifactManifestEntry is one descendant's outcome in a
// CollectTeamArtifacts call.
type ArtifactManifestEntry struct {
	InstanceID string             `json:"instance_id"`
	Source     ArtifactSourceKind `json:"source"`
	FileCount  int                `json:"file_count"`
}

// ArtifactManifest is the full result of a CollectTeamArtifacts call.
type ArtifactManifest struct {
	ParentID string                  `json:"parent_id"`
	Entries  []ArtifactManifestEntry `json:"entries"`
}

// CollectTeamArtifacts gathers artifacts for every descendant of
// parentID, including already-terminated ones, into destDir. Per
// descendant the source is chosen in priority order: (1) the preserved
// artifacts directory under artifactRoot, if present; (2) the live
// workspace, if the instance is still running; (3) recorded absent and
// skipped. This tolerance of terminated descendants is why the Registry
// retains terminated records rather than purging them eagerly.
func (c *Coordinator) CollectTeamArtifacts(parentID, artifactRoot, destDir string) (ArtifactManifest, error) {
	manifest := ArtifactManifest{ParentID: parentID}

	var children []*registry.Instance
	queue := []string{parentID}
	for len(queue) > 0 {
		kids := c.reg.Children(queue[0], registry.ListOptions{IncludeTerminated: true})
		queue = queue[1:]
		children = append(children, kids...)
		for _, kid := range kids {
			queue = append(queue, kid.ID)
		}
	}
	if len(children) == 0 {
		return manifest, nil
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return manifest, overseer.Wrap(overseer.Internal, "create artifact destination", err)
	}

	for _, child := range children {
		entry := ArtifactManifestEntry{InstanceID: child.ID, Source: ArtifactSourceAbsent}

		preservedDir := filepath.Join(artifactRoot, child.ID)
		if files, ok := readableFiles(preservedDir); ok {
			n, err := copyTree(preservedDir, files, filepath.Join(destDir, child.ID))
			if err != nil {
				return manifest, overseer.Wrap(overseer.Internal, "copy preserved artifacts", err)
			}
			entry.Source = ArtifactSourcePreserved
			entry.FileCount = n
		} else if child.State.Active() && child.WorkDir != "" {
			if files, ok := readableFiles(child.WorkDir); ok {
				n, err := copyTree(child.WorkDir, files, filepath.Join(destDir, child.ID))
				if err != nil {
					return manifest, overseer.Wrap(overseer.Internal, "copy workspace artifacts", err)
				}
				entry.Source = ArtifactSourceWorkspace
				entry.FileCount = n
			}
		}

		manifest.Entries = append(manifest.Entries, entry)
	}

	return manifest, nil
}

// readableFiles lists the entries directly under dir, directories
// included (copyTree skips those). ok
// is false if dir does not exist or cannot be read.
func readableFiles(dir string) ([]os.DirEntry, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}
	return entries, true
}

// copyTree copies every non-directory entry from src into dst,
// creating dst if needed, and returns how many files were copied.
func copyTree(src string, entries []os.DirEntry, dst string) (int, error) {
	n := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if n == 0 {
			if err := os.MkdirAll(dst, 0755); err != nil {
				return n, err
			}
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
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
