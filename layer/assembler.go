package layer

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/janelia-flyem/emtile/emtile"
)

const (
	// DefaultMaxDelay is the longest acquisition gap that does not restart a group.
	DefaultMaxDelay = 15 * time.Minute

	// DefaultPixelSizeTolerance is the pixel size drift tolerated during milling.
	DefaultPixelSizeTolerance = 0.5
)

var (
	// ErrUnsorted is returned when tiles arrive out of acquisition order.
	ErrUnsorted = errors.New("tiles are not sorted by acquisition time")

	// ErrTileCountChanged is returned instead of a restart when Options.FailOnTileCountChange is set.
	ErrTileCountChanged = errors.New("tiles per layer changed within a layer group")
)

// CommonFields are the header fields that must agree across a layer group.
var CommonFields = []string{
	"XResolution", "YResolution", "PixelSize", "EightBit", "ChanNum", "SWdate",
	"StageX", "StageY", "StageZ", "StageR",
}

// Options tune the assembler.  Zero values select the defaults.
type Options struct {
	MaxDelay              time.Duration
	PixelSizeTolerance    float64
	FailOnTileCountChange bool
}

func (o Options) withDefaults() Options {
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.PixelSizeTolerance == 0 {
		o.PixelSizeTolerance = DefaultPixelSizeTolerance
	}
	return o
}

// State is the assembler's position in the grouping state machine after the most
// recent tile.
type State uint8

const (
	Idle State = iota
	AccumulatingLayer
	LayerClosed
	RestartDetected
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AccumulatingLayer:
		return "accumulating layer"
	case LayerClosed:
		return "layer closed"
	case RestartDetected:
		return "restart detected"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("unknown state %d", s)
	}
}

// Assembler is the layer/restart state machine.  Feed it tiles in sorted order with
// Add, collect closed groups with Drain, and close out the input with Finish.
type Assembler struct {
	opts Options

	group   *LayerGroup
	current *Layer
	prev    *TileRecord
	state   State

	done []*LayerGroup
}

// NewAssembler returns an assembler with the given options.
func NewAssembler(opts Options) *Assembler {
	return &Assembler{opts: opts.withDefaults()}
}

// State returns the transition caused by the last tile.
func (a *Assembler) State() State {
	return a.state
}

// OpenGroup returns the group currently being built, or nil.
func (a *Assembler) OpenGroup() *LayerGroup {
	return a.group
}

// Drain returns the groups closed since the last call.
func (a *Assembler) Drain() []*LayerGroup {
	groups := a.done
	a.done = nil
	return groups
}

// Add processes the next tile.
func (a *Assembler) Add(r TileRecord) error {
	if a.state == Finished {
		return fmt.Errorf("tile %s added after assembler finished", r)
	}
	if a.group == nil {
		a.current = newLayer(r)
		a.group = newGroup(a.current, -1)
		a.prev = &r
		a.state = AccumulatingLayer
		return nil
	}
	prev := *a.prev
	delta := r.Path.Acquired.Sub(prev.Path.Acquired)
	if delta < 0 {
		return fmt.Errorf("tile %s acquired %s before preceding tile %s: %w", r, -delta, prev, ErrUnsorted)
	}
	sameLayer := delta == 0 && r.Path.LayerID() == a.current.ID

	switch {
	case delta > a.opts.MaxDelay:
		a.restart(&RestartEvent{
			Kind:   AcquisitionDelay,
			Detail: fmt.Sprintf("%s gap between %s and %s", delta, prev.Path.TileID(), r.Path.TileID()),
			Delta:  delta,
		}, r, sameLayer)
	default:
		if field, detail := a.drift(r); field != "" {
			a.restart(&RestartEvent{
				Kind:   HeaderFieldDrift,
				Detail: detail,
				Field:  field,
			}, r, sameLayer)
		} else if sameLayer {
			a.current.Append(r)
			a.state = AccumulatingLayer
		} else {
			if err := a.closeLayer(r); err != nil {
				return err
			}
			a.current = newLayer(r)
		}
	}
	a.prev = &r
	return nil
}

// Finish closes the last layer and group and returns every group not yet drained.
func (a *Assembler) Finish() ([]*LayerGroup, error) {
	if a.state == Finished {
		return a.Drain(), nil
	}
	if a.group != nil {
		if err := a.closeLayer(TileRecord{Index: -1}); err != nil {
			return nil, err
		}
		a.done = append(a.done, a.group)
		a.group, a.current = nil, nil
	}
	a.state = Finished
	return a.Drain(), nil
}

// drift compares the common header fields of r against the group's first tile.
func (a *Assembler) drift(r TileRecord) (field, detail string) {
	ref := a.group.Header
	for _, name := range CommonFields {
		refVal, _ := ref.Value(name)
		val, _ := r.Header.Value(name)
		if name == "PixelSize" {
			diff := math.Abs(refVal.(float64) - val.(float64))
			if diff < a.opts.PixelSizeTolerance {
				continue
			}
			return name, fmt.Sprintf("%s changed from %v to %v (|delta| %.3g) at %s", name, refVal, val, diff, r.Path.TileID())
		}
		if refVal != val {
			return name, fmt.Sprintf("%s changed from %v to %v at %s", name, refVal, val, r.Path.TileID())
		}
	}
	return "", ""
}

// closeLayer moves the accumulating layer into the group.  next is the tile that
// caused the close (Index -1 at end of input).  A layer whose tile count differs from
// the group's established count ends the group and opens the next one instead.
func (a *Assembler) closeLayer(next TileRecord) error {
	l := a.current
	g := a.group
	switch {
	case g.TilesPerLayer == 0:
		g.TilesPerLayer = l.Len()
		g.Layers = append(g.Layers, l)
		a.state = LayerClosed
	case l.Len() == g.TilesPerLayer:
		g.Layers = append(g.Layers, l)
		a.state = LayerClosed
	default:
		if a.opts.FailOnTileCountChange {
			return fmt.Errorf("%s has %d tiles but group starting at %s has %d per layer: %w",
				l.ID, l.Len(), g.first.ID, g.TilesPerLayer, ErrTileCountChanged)
		}
		g.Restart = &RestartEvent{
			Kind:   TileCountChange,
			Detail: fmt.Sprintf("%s has %d tiles, expected %d", l.ID, l.Len(), g.TilesPerLayer),
			Before: g.LastLayer(),
			After:  l,
		}
		emtile.Infof("Restart %s\n", g.Restart)
		a.done = append(a.done, g)
		a.group = newGroup(l, next.Index)
		a.group.TilesPerLayer = l.Len()
		a.group.Layers = append(a.group.Layers, l)
		a.state = RestartDetected
	}
	return nil
}

// restart ends the open group because of tile r.  A layer is never split between
// groups.  If r belongs to the accumulating layer, the whole layer moves to the next
// group, and drift within a group's opening layer is only logged since there is no
// earlier layer to separate it from.  Otherwise the accumulating layer is carried
// into the next group if it falls short of the established tile count, and folded
// into the ending group if not.  A carried short layer is tolerated: the next full
// layer sets the new group's tile count.  If r itself drifts from the carried layer,
// the carried layer closes as a group of its own.
func (a *Assembler) restart(ev *RestartEvent, r TileRecord, sameLayer bool) {
	g := a.group
	l := a.current
	if sameLayer && len(g.Layers) == 0 {
		emtile.Warningf("Ignoring %s within opening %s of its group\n", ev, l)
		l.Append(r)
		a.state = AccumulatingLayer
		return
	}
	carry := sameLayer || (g.TilesPerLayer > 0 && l.Len() < g.TilesPerLayer)
	if !carry {
		g.Layers = append(g.Layers, l)
	}
	a.end(ev)

	switch {
	case sameLayer:
		l.Append(r)
		a.group = newGroup(l, r.Index)
	case carry:
		a.group = newGroup(l, r.Index)
		a.group.Layers = append(a.group.Layers, l)
		a.current = newLayer(r)
		if field, detail := a.drift(r); field != "" {
			ev.After = l
			ev = &RestartEvent{Kind: HeaderFieldDrift, Detail: detail, Field: field}
			a.end(ev)
			a.group = newGroup(a.current, r.Index)
		}
	default:
		a.current = newLayer(r)
		a.group = newGroup(a.current, r.Index)
	}
	ev.After = a.group.first
	a.state = RestartDetected
}

// end closes the open group, which must hold at least one layer, with restart ev.
func (a *Assembler) end(ev *RestartEvent) {
	g := a.group
	if g.TilesPerLayer == 0 {
		g.TilesPerLayer = g.LastLayer().Len()
	}
	ev.Before = g.LastLayer()
	g.Restart = ev
	emtile.Infof("Restart %s\n", ev)
	a.done = append(a.done, g)
}
