package convert

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/emtile/archive"
	"github.com/janelia-flyem/emtile/container"
	"github.com/janelia-flyem/emtile/emtile"
)

const (
	// DefaultCacheMB sizes the header cache used by partition merges.
	DefaultCacheMB = 32

	// DefaultReport is the key of the layer group report within the destination.
	DefaultReport = "reports/layer_groups.csv"
)

// Config is the decoded TOML configuration of a conversion run.
type Config struct {
	Logging emtile.LogConfig
	Convert ConvertConfig
	Mask    MaskConfig
}

// ConvertConfig is the [convert] table.
type ConvertConfig struct {
	// Source and Dest are blob store references: a local directory or a
	// gocloud.dev bucket URL.
	Source string
	Dest   string

	// Prefix restricts the listing of the source.
	Prefix string

	// Range of tiles in sorted order.  Stop is exclusive and a non-positive Stop
	// means the end of the listing.  First and Last are inclusive tile file names.
	Start int
	Stop  int
	First string
	Last  string

	SkipExisting bool `toml:"skip_existing"`
	Overwrite    bool
	Verify       bool

	MaxMipmapLevel int    `toml:"max_mipmap_level"`
	Compression    string `toml:"compression"`
	Chunk          []int

	Workers               int
	BatchSize             int  `toml:"batch_size"`
	CacheMB               int  `toml:"cache_mb"`
	FailOnTileCountChange bool `toml:"fail_on_tile_count_change"`

	Report string
}

// MaskConfig is the [mask] table.
type MaskConfig struct {
	// Regions are tile-space rectangles excluded from intensity statistics.
	Regions []Region

	// Write a PNG mask per distinct tile size.
	Artifacts bool
}

// Region is a half-open rectangle [X0,X1) x [Y0,Y1) in tile pixels.
type Region struct {
	X0 int `toml:"x0"`
	Y0 int `toml:"y0"`
	X1 int `toml:"x1"`
	Y1 int `toml:"y1"`
}

// Rect returns the region as an image rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X0, r.Y0, r.X1, r.Y1)
}

// DefaultConfig returns the configuration used for anything a TOML file leaves out.
func DefaultConfig() *Config {
	return &Config{
		Convert: ConvertConfig{
			SkipExisting:   true,
			Verify:         true,
			MaxMipmapLevel: archive.DefaultMaxMipmapLevel,
			Compression:    container.Zstd.String(),
			Workers:        1,
			BatchSize:      100,
			CacheMB:        DefaultCacheMB,
			Report:         DefaultReport,
		},
	}
}

// isURL is true for bucket URLs, which are left as is when paths are made absolute.
func isURL(ref string) bool {
	return strings.Contains(ref, "://")
}

func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error
	configDir := filepath.Dir(configPath)
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = emtile.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path: %v", err)
		}
	}
	for _, ref := range []*string{&c.Convert.Source, &c.Convert.Dest} {
		if *ref == "" || isURL(*ref) {
			continue
		}
		if *ref, err = emtile.ConvertToAbsolute(*ref, configDir); err != nil {
			return fmt.Errorf("error converting store %q to absolute path: %v", *ref, err)
		}
	}
	return nil
}

// LoadConfig decodes a TOML file over the defaults.  Relative paths are resolved
// against the directory holding the file.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig()
	if filename == "" {
		return c, nil
	}
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks settings that can't be checked by decoding alone.
func (c *Config) Validate() error {
	cc := c.Convert
	if cc.Source == "" {
		return fmt.Errorf("no tile source given")
	}
	if cc.Dest == "" {
		return fmt.Errorf("no archive destination given")
	}
	if _, err := container.ParseCompression(cc.Compression); err != nil {
		return err
	}
	if cc.MaxMipmapLevel < 0 {
		return fmt.Errorf("max mipmap level must be non-negative, got %d", cc.MaxMipmapLevel)
	}
	if len(cc.Chunk) != 0 && len(cc.Chunk) != 2 {
		return fmt.Errorf("chunk shape must have 2 dimensions, got %v", cc.Chunk)
	}
	for _, d := range cc.Chunk {
		if d <= 0 {
			return fmt.Errorf("bad chunk shape %v", cc.Chunk)
		}
	}
	if _, err := c.Range(); err != nil {
		return err
	}
	for i, r := range c.Mask.Regions {
		if r.Rect().Empty() {
			return fmt.Errorf("mask region %d (%v) is empty", i, r.Rect())
		}
	}
	return nil
}

// Range returns the tile range selected by the configuration.
func (c *Config) Range() (Range, error) {
	cc := c.Convert
	byIndex := cc.Start != 0 || cc.Stop > 0
	byName := cc.First != "" || cc.Last != ""
	if byIndex && byName {
		return Range{}, fmt.Errorf("give either a start/stop index or a first/last name, not both")
	}
	if cc.Start < 0 {
		return Range{}, fmt.Errorf("start index must be non-negative, got %d", cc.Start)
	}
	if cc.Stop > 0 && cc.Stop <= cc.Start {
		return Range{}, fmt.Errorf("stop index %d must be past start index %d", cc.Stop, cc.Start)
	}
	return Range{Start: cc.Start, Stop: cc.Stop, First: cc.First, Last: cc.Last}, nil
}

// ArchiveOptions returns the dataset storage options.
func (c *Config) ArchiveOptions() archive.Options {
	comp, _ := container.ParseCompression(c.Convert.Compression)
	return archive.Options{Chunk: c.Convert.Chunk, Compression: comp}
}

// MipmapOptions returns the pyramid options.
func (c *Config) MipmapOptions() archive.MipmapOptions {
	return archive.MipmapOptions{MaxLevel: c.Convert.MaxMipmapLevel, Exclude: c.exclusions()}
}

func (c *Config) exclusions() []image.Rectangle {
	if len(c.Mask.Regions) == 0 {
		return nil
	}
	rects := make([]image.Rectangle, len(c.Mask.Regions))
	for i, r := range c.Mask.Regions {
		rects[i] = r.Rect()
	}
	return rects
}
