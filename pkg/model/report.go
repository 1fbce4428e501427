package model

import (
	"math"
	"sort"
	"time"
)

// Report summarizes one analysis run.
type Report struct {
	ID          string        `json:"id"`
	Artifact    string        `json:"artifact"`
	SHA256      string        `json:"sha256"`
	Format      Format        `json:"format"`
	Arch        string        `json:"arch,omitempty"`
	TotalSize   uint64        `json:"total_size"`
	SymbolCount int           `json:"symbol_count"`
	NodeCount   int           `json:"node_count"`
	MaxDepth    int           `json:"max_depth"`
	CreatedAt   time.Time     `json:"created_at"`
	Duration    time.Duration `json:"duration_ns"`
	OutputFiles []string      `json:"output_files,omitempty"`
	Entries     []Entry       `json:"entries,omitempty"`
}

// Entry is one tree node flattened for storage and comparison.
type Entry struct {
	Path    string `json:"path"`
	Depth   int    `json:"depth"`
	Size    uint64 `json:"size"`
	OwnSize uint64 `json:"own_size"`
}

// EntryDelta is the size change of one path between two reports.
type EntryDelta struct {
	Path   string `json:"path"`
	Before uint64 `json:"before"`
	After  uint64 `json:"after"`
	Delta  int64  `json:"delta"`
}

// Diff compares the entries of two reports. Paths present in only one side
// count as zero on the other. The result is ordered by absolute delta,
// largest first, then by path. Unchanged paths are omitted.
func Diff(before, after []Entry) []EntryDelta {
	sizes := make(map[string]*EntryDelta)
	order := make([]string, 0, len(before)+len(after))

	get := func(path string) *EntryDelta {
		d, ok := sizes[path]
		if !ok {
			d = &EntryDelta{Path: path}
			sizes[path] = d
			order = append(order, path)
		}
		return d
	}
	for _, e := range before {
		get(e.Path).Before += e.Size
	}
	for _, e := range after {
		get(e.Path).After += e.Size
	}

	out := make([]EntryDelta, 0, len(order))
	for _, p := range order {
		d := sizes[p]
		d.Delta = signedDelta(d.Before, d.After)
		if d.Delta != 0 {
			out = append(out, *d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := absDelta(out[i].Delta), absDelta(out[j].Delta)
		if ai != aj {
			return ai > aj
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func signedDelta(before, after uint64) int64 {
	if after >= before {
		d := after - before
		if d > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(d)
	}
	d := before - after
	if d > math.MaxInt64 {
		return math.MinInt64
	}
	return -int64(d)
}

func absDelta(d int64) uint64 {
	if d < 0 {
		return uint64(-(d + 1)) + 1
	}
	return uint64(d)
}
