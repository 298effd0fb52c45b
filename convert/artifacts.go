package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/janelia-flyem/emtile/emtile"
	"github.com/janelia-flyem/emtile/storage"
)

// ArtifactContext tracks optional companion artifacts across the layers of a run.
// Each artifact is created at most once; creation failures are recorded by key
// and never abort the run.
type ArtifactContext struct {
	mu       sync.Mutex
	existing map[string]struct{}
	pending  map[string]*sync.WaitGroup
	errs     map[string]error
}

// NewArtifactContext returns an empty context.
func NewArtifactContext() *ArtifactContext {
	return &ArtifactContext{
		existing: make(map[string]struct{}),
		pending:  make(map[string]*sync.WaitGroup),
		errs:     make(map[string]error),
	}
}

// Ensure runs create for key unless the artifact already exists or a previous
// attempt failed.  Concurrent callers for the same key wait for the first.
// It returns true if this call created the artifact.
func (a *ArtifactContext) Ensure(key string, create func() error) bool {
	a.mu.Lock()
	if _, found := a.existing[key]; found {
		a.mu.Unlock()
		return false
	}
	if _, failed := a.errs[key]; failed {
		a.mu.Unlock()
		return false
	}
	if wg, busy := a.pending[key]; busy {
		a.mu.Unlock()
		wg.Wait()
		return false
	}
	wg := new(sync.WaitGroup)
	wg.Add(1)
	a.pending[key] = wg
	a.mu.Unlock()

	err := create()

	a.mu.Lock()
	delete(a.pending, key)
	if err != nil {
		a.errs[key] = err
		emtile.Errorf("Unable to create artifact %q: %v\n", key, err)
	} else {
		a.existing[key] = struct{}{}
	}
	a.mu.Unlock()
	wg.Done()
	return err == nil
}

// Exists reports whether key was created or found during the run.
func (a *ArtifactContext) Exists(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, found := a.existing[key]
	return found
}

// Existing returns the sorted keys of all artifacts present.
func (a *ArtifactContext) Existing() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.existing))
	for k := range a.existing {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Errors returns a copy of the failures keyed by artifact key.
func (a *ArtifactContext) Errors() map[string]error {
	a.mu.Lock()
	defer a.mu.Unlock()
	errs := make(map[string]error, len(a.errs))
	for k, err := range a.errs {
		errs[k] = err
	}
	return errs
}

// Err summarizes all failures in key order, or returns nil if there were none.
func (a *ArtifactContext) Err() error {
	errs := a.Errors()
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var result *multierror.Error
	for _, k := range keys {
		result = multierror.Append(result, fmt.Errorf("%s: %w", k, errs[k]))
	}
	return result.ErrorOrNil()
}

// MaskKey names the mask for tiles of the given size with the given excluded regions.
func MaskKey(width, height int, regions []image.Rectangle) string {
	parts := make([]string, len(regions))
	for i, r := range regions {
		parts[i] = fmt.Sprintf("%d-%d-%d-%d", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
	}
	desc := "full"
	if len(parts) > 0 {
		desc = strings.Join(parts, "_")
	}
	return fmt.Sprintf("masks/mask_%dx%d_%s.png", width, height, desc)
}

// Mask returns an 8-bit mask of a tile: 255 where pixels are kept, 0 where excluded.
func Mask(width, height int, regions []image.Rectangle) *image.Gray {
	m := emtile.NewPlane8(width, height)
	for i := range m.Pix {
		m.Pix[i] = 255
	}
	bounds := image.Rect(0, 0, width, height)
	for _, r := range regions {
		r = r.Intersect(bounds)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				m.Set(x, y, 0)
			}
		}
	}
	return m.Gray()
}

// writeMask encodes a mask as PNG and stores it.  A mask already in the store is
// left alone.
func writeMask(ctx context.Context, store *storage.Store, key string, width, height int, regions []image.Rectangle) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Mask(width, height, regions)); err != nil {
		return err
	}
	err := store.Put(ctx, key, buf.Bytes(), false)
	if errors.Is(err, storage.ErrExists) {
		emtile.Debugf("Mask %q already exists\n", key)
		return nil
	}
	return err
}
