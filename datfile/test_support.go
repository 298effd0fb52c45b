package datfile

import (
	"fmt"
	"time"

	"github.com/janelia-flyem/emtile/emtile"
)

// TestHeader returns a plausible 16-bit single-channel header for synthetic tiles.
func TestHeader(width, height int) *Header {
	h := &Header{
		FileMagicNum:   MagicNumber,
		FileVersion:    9,
		FileType:       1,
		SWdate:         "03/08/2021",
		TimeStep:       2e-7,
		ChanNum:        1,
		XResolution:    uint32(width),
		YResolution:    uint32(height),
		Oversampling:   1,
		ZeissScanSpeed: 5,
		ScanRate:       5e6,
		Notes:          "Z0422-05_Or, test notes",
		Mag:            4000,
		PixelSize:      8,
		WD:             0.0049,
		EHT:            1.2,
		StageX:         12.5,
		StageY:         -3.25,
		StageZ:         24.1,
		StageR:         0.5,
	}
	h.FileLength = HeaderSize + h.PayloadSize()
	return h
}

// TestTileName returns a conventional tile file name.
func TestTileName(scope string, acquired time.Time, section, row, column int) string {
	return fmt.Sprintf("%s_%s_%d-%d-%d.dat", scope, acquired.UTC().Format(StampLayout), section, row, column)
}

// TestTile returns an encoded 16-bit tile whose pixels follow a repeatable pattern
// seeded by seed, plus a short recipe trailer.
func TestTile(name string, h *Header, channels int, seed int) (*Tile, error) {
	w, ht := int(h.XResolution), int(h.YResolution)
	planes := make([]*emtile.Plane16, channels)
	for c := range planes {
		p := emtile.NewPlane16(w, ht)
		for i := range p.Pix {
			p.Pix[i] = int16((i*131 + c*7919 + seed*31) % 65536)
		}
		planes[c] = p
	}
	recipe := []byte(fmt.Sprintf("recipe:%s:%d", name, seed))
	return NewTile16(name, h, planes, recipe)
}
