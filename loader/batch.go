package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bbiangul/agrokg/extraction"
	"github.com/bbiangul/agrokg/kgerr"
)

// Item is one record of a batch. ID identifies the record in reports, for
// example "labels/12345.json#0".
type Item struct {
	ID       string
	Record   extraction.Record
	Document extraction.DocumentInfo
}

// ItemError is a record that failed. Field is set for validation errors.
type ItemError struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Field string `json:"field,omitempty"`
	Error string `json:"error"`
}

// BatchResult summarises a batch. Resume is the index to restart from after
// a transient failure, or -1 when every item was attempted.
type BatchResult struct {
	Total         int           `json:"total"`
	Loaded        int           `json:"loaded"`
	Nodes         Counts        `json:"nodes"`
	Relationships Counts        `json:"relationships"`
	Failures      []ItemError   `json:"failures,omitempty"`
	Warnings      []Warning     `json:"warnings,omitempty"`
	Resume        int           `json:"resume"`
	LastCompleted int           `json:"last_completed"`
	Results       []*LoadResult `json:"-"`
}

// ResumeError is returned by LoadBatch when a record exhausted its retry
// budget. Items before Position were all attempted; restarting the batch
// from Position is safe because loads are idempotent.
type ResumeError struct {
	Position int
	ID       string
	Err      error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("batch stopped at item %d (%s): %v", e.Position, e.ID, e.Err)
}

func (e *ResumeError) Unwrap() error { return e.Err }

// LoadBatch loads items with bounded concurrency. Validation and other
// per-record failures are collected and the batch continues. A transient
// failure that outlives its retries stops new work and is returned as a
// *ResumeError alongside the partial result.
func (l *Loader) LoadBatch(ctx context.Context, items []Item) (*BatchResult, error) {
	out := &BatchResult{
		Total:         len(items),
		Resume:        -1,
		LastCompleted: -1,
		Results:       make([]*LoadResult, len(items)),
	}

	var (
		mu       sync.Mutex
		failures []ItemError
		stopped  = -1
		stopErr  error
	)
	attempted := make([]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Concurrency)

	for i, it := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := l.LoadRecord(gctx, it.Record, it.Document)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				out.Results[i] = res
				attempted[i] = true
				return nil
			}
			if kgerr.IsTransient(err) {
				if gctx.Err() != nil && stopped >= 0 {
					// Cancelled by an earlier stop, not a failure of its own.
					return nil
				}
				if stopped < 0 || i < stopped {
					stopped, stopErr = i, err
				}
				slog.Error("loader: retries exhausted", "item", it.ID, "index", i, "error", err)
				return &ResumeError{Position: i, ID: it.ID, Err: err}
			}
			attempted[i] = true
			failures = append(failures, ItemError{
				Index: i,
				ID:    it.ID,
				Field: kgerr.FieldOf(err, "field"),
				Error: err.Error(),
			})
			slog.Warn("loader: record failed", "item", it.ID, "index", i, "error", err)
			return nil
		})
	}
	groupErr := g.Wait()

	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
	out.Failures = failures
	for _, res := range out.Results {
		if res == nil {
			continue
		}
		out.Loaded++
		out.Nodes.merge(res.NodeTotals())
		out.Relationships.merge(res.RelationshipTotals())
		out.Warnings = append(out.Warnings, res.Warnings...)
	}
	for i := range attempted {
		if !attempted[i] {
			break
		}
		out.LastCompleted = i
	}

	if stopped >= 0 {
		out.Resume = out.LastCompleted + 1
		return out, &ResumeError{Position: out.Resume, ID: items[out.Resume].ID, Err: stopErr}
	}
	if groupErr != nil {
		return out, groupErr
	}
	if err := ctx.Err(); err != nil {
		out.Resume = out.LastCompleted + 1
		if out.Resume < len(items) {
			return out, &ResumeError{Position: out.Resume, ID: items[out.Resume].ID, Err: err}
		}
	}

	slog.Info("loader: batch complete",
		"total", out.Total,
		"loaded", out.Loaded,
		"failed", len(out.Failures),
		"nodes_created", out.Nodes.Created,
		"edges_created", out.Relationships.Created)
	return out, nil
}

// ReadItems decodes record files into batch items. Directories are expanded
// to their *.json files, skipping names that start with "_" (summaries and
// manifests). A file that fails to decode is returned as an ItemError and
// the remaining files are still read.
func ReadItems(paths ...string) ([]Item, []ItemError, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.json"))
		if err != nil {
			return nil, nil, err
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !strings.HasPrefix(filepath.Base(m), "_") {
				files = append(files, m)
			}
		}
	}

	var (
		items  []Item
		failed []ItemError
	)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, nil, err
		}
		envs, err := extraction.DecodeAll(data)
		if err != nil {
			failed = append(failed, ItemError{Index: -1, ID: f, Error: err.Error()})
			continue
		}
		for i, env := range envs {
			doc := defaultDocument(f, env)
			items = append(items, Item{
				ID:       fmt.Sprintf("%s#%d", f, i),
				Record:   env.Record,
				Document: doc,
			})
		}
	}
	return items, failed, nil
}

// defaultDocument falls back to the file name as the source document id
// when the envelope carries no document block.
func defaultDocument(path string, env *extraction.Envelope) extraction.DocumentInfo {
	if env.Document != nil && env.Document.SourceID != "" {
		return *env.Document
	}
	doc := extraction.DocumentInfo{}
	if env.Document != nil {
		doc = *env.Document
	}
	doc.SourceID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return doc
}
