package layer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/emtile/datfile"
	"github.com/janelia-flyem/emtile/emtile"
)

// DefaultBatchSize is the number of headers read before they are fed to the assembler.
const DefaultBatchSize = 100

// Scanner reads tile headers from a source and groups them into layers.
type Scanner struct {
	Source  *datfile.Source
	Options Options

	// BatchSize bounds how many headers are read ahead of the assembler.
	BatchSize int

	// Workers bounds concurrent header reads within a batch and the number of
	// partitions used by ScanPartitioned.
	Workers int
}

func (s *Scanner) batchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

func (s *Scanner) workers() int {
	if s.Workers <= 0 {
		return 1
	}
	return s.Workers
}

// record reads the header of paths[i].  The verbatim header bytes are dropped since
// grouping only needs the decoded fields.
func (s *Scanner) record(ctx context.Context, paths []datfile.TilePath, i int) (TileRecord, error) {
	h, err := s.Source.Header(ctx, paths[i].Key)
	if err != nil {
		return TileRecord{}, err
	}
	h.Raw = nil
	return TileRecord{Index: i, Path: paths[i], Header: h}, nil
}

// feed runs paths[start:end] through a in batches.
func (s *Scanner) feed(ctx context.Context, a *Assembler, paths []datfile.TilePath, start, end int) error {
	batch := make([]TileRecord, 0, s.batchSize())
	for lo := start; lo < end; lo += s.batchSize() {
		hi := lo + s.batchSize()
		if hi > end {
			hi = end
		}
		batch = batch[:hi-lo]
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers())
		for i := lo; i < hi; i++ {
			i := i
			g.Go(func() error {
				r, err := s.record(gctx, paths, i)
				if err != nil {
					return err
				}
				batch[i-lo] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, r := range batch {
			if err := a.Add(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// Scan groups the sorted paths with a single assembler.
func (s *Scanner) Scan(ctx context.Context, paths []datfile.TilePath) ([]*LayerGroup, error) {
	timedLog := emtile.NewTimeLog()
	a := NewAssembler(s.Options)
	if err := s.feed(ctx, a, paths, 0, len(paths)); err != nil {
		return nil, err
	}
	groups, err := a.Finish()
	if err != nil {
		return nil, err
	}
	AnnotateRestarts(groups)
	timedLog.Infof("Scanned %d tiles into %d layer groups", len(paths), len(groups))
	return groups, nil
}

// Partition is the result of scanning one contiguous slice of the input.  Groups are
// the groups closed within the slice and Live is the assembler holding the group that
// was still open at the end of the slice.
type Partition struct {
	Start, End int
	Groups     []*LayerGroup
	Live       *Assembler
}

// ScanPartition scans paths[start:end] without finishing the assembler.
func (s *Scanner) ScanPartition(ctx context.Context, paths []datfile.TilePath, start, end int) (*Partition, error) {
	a := NewAssembler(s.Options)
	if err := s.feed(ctx, a, paths, start, end); err != nil {
		return nil, fmt.Errorf("scanning tiles %d-%d: %w", start, end-1, err)
	}
	return &Partition{Start: start, End: end, Groups: a.Drain(), Live: a}, nil
}

// ScanPartitioned splits the sorted paths into contiguous partitions, scans them
// concurrently, and merges the results.  The result is identical to Scan.
func (s *Scanner) ScanPartitioned(ctx context.Context, paths []datfile.TilePath) ([]*LayerGroup, error) {
	n := s.workers()
	if n > len(paths) {
		n = len(paths)
	}
	if n <= 1 {
		return s.Scan(ctx, paths)
	}
	timedLog := emtile.NewTimeLog()
	parts := make([]*Partition, n)
	g, gctx := errgroup.WithContext(ctx)
	size := (len(paths) + n - 1) / n
	for k := 0; k < n; k++ {
		k := k
		start, end := k*size, (k+1)*size
		if end > len(paths) {
			end = len(paths)
		}
		if start >= end {
			parts = parts[:k]
			break
		}
		g.Go(func() error {
			worker := *s
			worker.Workers = 1
			p, err := worker.ScanPartition(gctx, paths, start, end)
			if err != nil {
				return err
			}
			parts[k] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	groups, err := s.Merge(ctx, paths, parts)
	if err != nil {
		return nil, err
	}
	AnnotateRestarts(groups)
	hits, misses := s.Source.CacheStats()
	timedLog.Infof("Scanned %d tiles in %d partitions into %d layer groups (header cache %d hits, %d misses)",
		len(paths), len(parts), len(groups), hits, misses)
	return groups, nil
}

// Merge joins partition results in order.  The open state at the end of each
// partition is carried forward by re-running the state machine over the next
// partition's tiles until it opens a group that partition also opened from the same
// tiles, after which the two runs are identical and the partition's own results are
// adopted.
func (s *Scanner) Merge(ctx context.Context, paths []datfile.TilePath, parts []*Partition) ([]*LayerGroup, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	groups := parts[0].Groups
	live := parts[0].Live
	for _, next := range parts[1:] {
		var synced bool
		for i := next.Start; i < next.End && !synced; i++ {
			r, err := s.record(ctx, paths, i)
			if err != nil {
				return nil, err
			}
			if err := live.Add(r); err != nil {
				return nil, err
			}
			groups = append(groups, live.Drain()...)
			open := live.OpenGroup()
			if open == nil || open.TriggerIndex != i {
				continue
			}
			adopted, adoptedLive, ok := next.from(open)
			if !ok {
				continue
			}
			if n := len(groups); n > 0 && groups[n-1].Restart != nil {
				groups[n-1].Restart.After = adopted.first
			}
			if len(next.Groups) > 0 {
				for j, g := range next.Groups {
					if g == adopted {
						groups = append(groups, next.Groups[j:]...)
						break
					}
				}
			}
			live = adoptedLive
			synced = true
			emtile.Debugf("Partition starting at tile %d resynchronized at tile %d\n", next.Start, i)
		}
		if !synced {
			emtile.Debugf("Partition starting at tile %d never resynchronized\n", next.Start)
		}
	}
	final, err := live.Finish()
	if err != nil {
		return nil, err
	}
	return append(groups, final...), nil
}

// from finds the group of p opened from the same tiles as open.  It returns the
// matching group and the assembler that should continue the merged run.
func (p *Partition) from(open *LayerGroup) (*LayerGroup, *Assembler, bool) {
	same := func(g *LayerGroup) bool {
		return g.TriggerIndex == open.TriggerIndex && g.StartIndex == open.StartIndex
	}
	for _, g := range p.Groups {
		if same(g) {
			return g, p.Live, true
		}
	}
	if g := p.Live.OpenGroup(); g != nil && same(g) {
		return g, p.Live, true
	}
	return nil, nil, false
}
