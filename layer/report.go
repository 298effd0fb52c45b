package layer

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"
)

// GroupRow is one line of a layer group report.
type GroupRow struct {
	Group         int     `csv:"group"`
	FirstLayer    string  `csv:"first_layer"`
	LastLayer     string  `csv:"last_layer"`
	Layers        int     `csv:"layers"`
	TilesPerLayer int     `csv:"tiles_per_layer"`
	StartIndex    int     `csv:"start_index"`
	Started       string  `csv:"started"`
	RestartKind   string  `csv:"restart_kind"`
	Restart       string  `csv:"restart_condition"`
	DistanceZ     float64 `csv:"restart_distance_z"`
	Rows          int     `csv:"rows"`
	Columns       int     `csv:"columns"`
}

// GroupRows summarizes each group as a report row.
func GroupRows(groups []*LayerGroup) []*GroupRow {
	rows := make([]*GroupRow, 0, len(groups))
	for i, g := range groups {
		ext := GroupExtents([]*LayerGroup{g})
		row := &GroupRow{
			Group:         i,
			Layers:        len(g.Layers),
			TilesPerLayer: g.TilesPerLayer,
			StartIndex:    g.StartIndex,
			Rows:          ext.Rows(),
			Columns:       ext.Columns(),
		}
		if len(g.Layers) > 0 {
			row.FirstLayer = g.Layers[0].ID
			row.LastLayer = g.LastLayer().ID
			row.Started = g.Layers[0].Acquired().UTC().Format(time.RFC3339)
		}
		if g.Restart != nil {
			row.RestartKind = string(g.Restart.Kind)
			row.Restart = g.Restart.Detail
			if g.Restart.HasDistanceZ {
				row.DistanceZ = g.Restart.DistanceZ
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteGroupReport writes a CSV summary of groups to w.
func WriteGroupReport(w io.Writer, groups []*LayerGroup) error {
	return gocsv.Marshal(GroupRows(groups), w)
}
