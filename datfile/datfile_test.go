package datfile

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/janelia-flyem/emtile/emtile"
	"github.com/janelia-flyem/emtile/storage"
)

func encodedTestHeader(t *testing.T, w, h, c int) []byte {
	hdr := TestHeader(w, h)
	b, err := hdr.Encode(w, h, c)
	if err != nil {
		t.Fatalf("unable to encode header: %v\n", err)
	}
	return b
}

func TestHeaderRoundTrip(t *testing.T) {
	b := encodedTestHeader(t, 64, 32, 2)
	if len(b) != HeaderSize {
		t.Fatalf("expected %d header bytes, got %d\n", HeaderSize, len(b))
	}
	h, err := DecodeHeader("test.dat", b)
	if err != nil {
		t.Fatalf("decode failed: %v\n", err)
	}
	if h.XResolution != 64 || h.YResolution != 32 || h.ChanNum != 2 {
		t.Errorf("bad geometry: %d x %d x %d\n", h.XResolution, h.YResolution, h.ChanNum)
	}
	if expected := int64(HeaderSize + 64*32*2*2); h.FileLength != expected {
		t.Errorf("expected file length %d, got %d\n", expected, h.FileLength)
	}
	if h.PixelSize != 8 || h.SWdate != "03/08/2021" || h.StageY != -3.25 {
		t.Errorf("bad decoded fields: %+v\n", h)
	}
	again, err := h.Encode(64, 32, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, b) {
		t.Errorf("re-encoding an unchanged header altered its bytes\n")
	}
}

func TestEncodePreservesUnmodeledBytes(t *testing.T) {
	b := encodedTestHeader(t, 16, 16, 1)
	b[700] = 0xAB // unmodeled region
	b[8+9] = 0x7F // garbage after a NUL inside SWdate's 10 bytes is kept
	b[8+8] = 0
	h, err := DecodeHeader("x.dat", b)
	if err != nil {
		t.Fatal(err)
	}
	out, err := h.Encode(16, 16, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, b) {
		t.Fatalf("unmodeled bytes were not carried through encode\n")
	}

	h.PixelSize = 4
	out, err = h.Encode(32, 16, 1)
	if err != nil {
		t.Fatal(err)
	}
	if out[700] != 0xAB {
		t.Errorf("unmodeled byte lost after field change\n")
	}
	h2, err := DecodeHeader("x.dat", out)
	if err != nil {
		t.Fatal(err)
	}
	if h2.PixelSize != 4 || h2.XResolution != 32 || h2.FileLength != HeaderSize+32*16*2 {
		t.Errorf("changed fields not encoded: %+v\n", h2)
	}
}

func TestHeaderInvalid(t *testing.T) {
	hdr := TestHeader(8, 8)
	hdr.PixelSize = 0
	hdr.Raw = nil
	b := make([]byte, HeaderSize)
	for _, f := range fields {
		if err := f.encode(hdr, b[f.Offset:f.Offset+f.Size]); err != nil {
			t.Fatal(err)
		}
	}
	_, err := DecodeHeader("zero-pixel.dat", b)
	if !errors.Is(err, ErrHeaderInvalid) {
		t.Fatalf("expected ErrHeaderInvalid for zero pixel size, got %v\n", err)
	}
	var hie *HeaderInvalidError
	if !errors.As(err, &hie) || hie.File != "zero-pixel.dat" {
		t.Fatalf("error should name the offending file, got %v\n", err)
	}

	good := encodedTestHeader(t, 8, 8, 1)
	good[0] ^= 0xFF
	if _, err := DecodeHeader("bad-magic.dat", good); !errors.Is(err, ErrHeaderInvalid) {
		t.Fatalf("expected magic number failure, got %v\n", err)
	}
	if _, err := DecodeHeader("short.dat", good[:100]); !errors.Is(err, ErrHeaderInvalid) {
		t.Fatalf("expected short header failure, got %v\n", err)
	}
	if err := CheckMagic("bad-magic.dat", good); err == nil {
		t.Fatalf("CheckMagic accepted a bad magic number\n")
	}
}

func TestSampleFallback(t *testing.T) {
	h := TestHeader(4, 4)
	if id, ok := h.Sample(); !ok || id != "Z0422-05_Or" {
		t.Errorf("expected sample from notes, got %q %t\n", id, ok)
	}
	h.SampleID = "  Sample-7 "
	if id, ok := h.Sample(); !ok || id != "Sample-7" {
		t.Errorf("expected explicit sample id, got %q %t\n", id, ok)
	}
	h.SampleID, h.Notes = "", "  "
	if _, ok := h.Sample(); ok {
		t.Errorf("expected no sample id\n")
	}
}

func TestStageOverride(t *testing.T) {
	h := TestHeader(4, 4)
	if x, y := h.StageXY(); x != 12.5 || y != -3.25 {
		t.Errorf("expected stage position, got %f %f\n", x, y)
	}
	h.FirstX, h.FirstY = 100, 200
	if x, y := h.StageXY(); x != 100 || y != 200 {
		t.Errorf("expected first-stage override, got %f %f\n", x, y)
	}
}

func TestParseTilePath(t *testing.T) {
	p, err := ParseTilePath("raw/Merlin-6257_21-05-20_125416_0-1-2.dat")
	if err != nil {
		t.Fatal(err)
	}
	if p.Scope != "Merlin-6257" || p.Section != 0 || p.Row != 1 || p.Column != 2 {
		t.Errorf("bad identity: %+v\n", p)
	}
	if expected := time.Date(2021, 5, 20, 12, 54, 16, 0, time.UTC); !p.Acquired.Equal(expected) {
		t.Errorf("expected %s, got %s\n", expected, p.Acquired)
	}
	if p.LayerID() != "Merlin-6257_21-05-20_125416" {
		t.Errorf("bad layer id %q\n", p.LayerID())
	}
	if p.TileID() != "Merlin-6257_21-05-20_125416.0-1-2" {
		t.Errorf("bad tile id %q\n", p.TileID())
	}
	if p.MipmapGroupName(3) != "0-1-2.mipmap.3" {
		t.Errorf("bad mipmap group name %q\n", p.MipmapGroupName(3))
	}
	if p.FileName() != "Merlin-6257_21-05-20_125416_0-1-2.dat" {
		t.Errorf("bad file name %q\n", p.FileName())
	}

	for _, bad := range []string{"foo.dat", "Merlin_21-05-20_125416_0-1.dat", "Merlin_21-13-20_125416_0-1-2.dat", "Merlin_21-05-20_125416_0-1-2.tif"} {
		if _, err := ParseTilePath(bad); !errors.Is(err, ErrBadTileName) {
			t.Errorf("expected ErrBadTileName for %q, got %v\n", bad, err)
		}
	}
}

func TestSortTilePaths(t *testing.T) {
	keys := []string{
		"s_21-05-20_125446_0-0-1.dat",
		"s_21-05-20_125416_0-1-0.dat",
		"s_21-05-20_125416_0-0-1.dat",
		"s_21-05-20_125446_0-0-0.dat",
		"s_21-05-20_125416_0-0-0.dat",
	}
	paths, err := ParseTilePaths(keys)
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{
		"s_21-05-20_125416.0-0-0", "s_21-05-20_125416.0-0-1", "s_21-05-20_125416.0-1-0",
		"s_21-05-20_125446.0-0-0", "s_21-05-20_125446.0-0-1",
	}
	for i, p := range paths {
		if p.TileID() != expected[i] {
			t.Errorf("position %d: expected %s, got %s\n", i, expected[i], p.TileID())
		}
	}
	if !paths[0].Equal(paths[0].TileIdentity) || paths[0].Equal(paths[1].TileIdentity) {
		t.Errorf("identity equality broken\n")
	}
}

func TestTileChannels(t *testing.T) {
	h := TestHeader(5, 3)
	planes := []*emtile.Plane16{emtile.NewPlane16(5, 3), emtile.NewPlane16(5, 3)}
	for i := range planes[0].Pix {
		planes[0].Pix[i] = int16(-i * 1000)
		planes[1].Pix[i] = int16(i)
	}
	tile, err := NewTile16("t.dat", h, planes, []byte("trailer bytes"))
	if err != nil {
		t.Fatal(err)
	}
	data := tile.Bytes()
	if len(data) != HeaderSize+5*3*2*2+len("trailer bytes") {
		t.Fatalf("unexpected file size %d\n", len(data))
	}
	// second pixel: channel 0 is -1000, channel 1 is 1, both big-endian
	if data[HeaderSize+4] != 0xFC || data[HeaderSize+5] != 0x18 || data[HeaderSize+6] != 0 || data[HeaderSize+7] != 1 {
		t.Errorf("payload not channel-interleaved big-endian: % x\n", data[HeaderSize:HeaderSize+8])
	}
	decoded, err := DecodeTile("t.dat", data)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded.Recipe) != "trailer bytes" {
		t.Errorf("bad recipe %q\n", decoded.Recipe)
	}
	for c, expected := range planes {
		got, err := decoded.Channel16(c)
		if err != nil {
			t.Fatal(err)
		}
		for i := range got.Pix {
			if got.Pix[i] != expected.Pix[i] {
				t.Fatalf("channel %d pixel %d: expected %d, got %d\n", c, i, expected.Pix[i], got.Pix[i])
			}
		}
	}
	if _, err := decoded.Channel16(2); err == nil {
		t.Errorf("expected error for missing channel\n")
	}
	if _, err := decoded.Channel8(0); err == nil {
		t.Errorf("expected error extracting 8-bit channel from 16-bit tile\n")
	}
	if !bytes.Equal(decoded.Bytes(), data) {
		t.Errorf("decoded tile does not reproduce file bytes\n")
	}
	if _, err := DecodeTile("t.dat", data[:HeaderSize+10]); err == nil {
		t.Errorf("expected truncation error\n")
	}
}

func TestTile8(t *testing.T) {
	h := TestHeader(2, 2)
	p := emtile.NewPlane8(2, 2)
	copy(p.Pix, []uint8{1, 2, 3, 4})
	tile, err := NewTile8("t8.dat", h, []*emtile.Plane8{p}, nil)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeTile("t8.dat", tile.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Header.BitDepth() != 8 || len(decoded.Recipe) != 0 {
		t.Fatalf("bad 8-bit tile: depth %d recipe %d\n", decoded.Header.BitDepth(), len(decoded.Recipe))
	}
	got, err := decoded.Channel8(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Pix, p.Pix) {
		t.Errorf("expected %v, got %v\n", p.Pix, got.Pix)
	}
}

func TestSourceHeaderOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	defer store.Close()

	name := TestTileName("Merlin-1", time.Date(2021, 5, 20, 12, 0, 0, 0, time.UTC), 0, 0, 0)
	tile, err := TestTile(name, TestHeader(32, 32), 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, name, tile.Bytes(), false); err != nil {
		t.Fatal(err)
	}
	src := NewSource(store, 1)
	for i := 0; i < 2; i++ {
		h, err := src.Header(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		if h.XResolution != 32 {
			t.Fatalf("bad header from source: %+v\n", h)
		}
	}
	if hits, _ := src.CacheStats(); hits != 1 {
		t.Errorf("expected second header read to hit the cache, got %d hits\n", hits)
	}
	full, err := src.Tile(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(full.Bytes(), tile.Bytes()) {
		t.Errorf("source tile differs from stored tile\n")
	}
}
