// Command-line interface for converting dat tiles into archives.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/janelia-flyem/emtile/emtile"
)

var storeFlags = []cli.Flag{
	&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML configuration file"},
	&cli.StringFlag{Name: "source", Usage: "tile store: directory or bucket URL"},
	&cli.StringFlag{Name: "dest", Usage: "archive store: directory or bucket URL"},
	&cli.StringFlag{Name: "prefix", Usage: "only consider source keys with this prefix"},
}

var rangeFlags = []cli.Flag{
	&cli.IntFlag{Name: "start", Usage: "index of the first tile in time order"},
	&cli.IntFlag{Name: "stop", Usage: "index one past the last tile"},
	&cli.StringFlag{Name: "first", Usage: "file name of the first tile"},
	&cli.StringFlag{Name: "last", Usage: "file name of the last tile"},
	&cli.IntFlag{Name: "workers", Aliases: []string{"j"}, Usage: "concurrent layers and scan partitions"},
}

var archiveFlags = []cli.Flag{
	&cli.BoolFlag{Name: "overwrite", Usage: "replace existing archives"},
	&cli.IntFlag{Name: "max-mipmap-level", Usage: "maximum number of downsampled levels"},
	&cli.StringFlag{Name: "compression", Usage: "none, zlib, zstd, snappy or lz4"},
}

func flags(sets ...[]cli.Flag) []cli.Flag {
	var all []cli.Flag
	for _, s := range sets {
		all = append(all, s...)
	}
	return all
}

func main() {
	app := &cli.App{
		Name:  "emtile",
		Usage: "Archive FIB-SEM dat tiles and build 8-bit mipmaps",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log debug messages"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				emtile.SetLogMode(emtile.DebugMode)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "convert",
				Usage:  "Convert a range of tiles into raw and mipmap archives per layer",
				Flags:  flags(storeFlags, rangeFlags, archiveFlags, convertFlags),
				Action: doConvert,
			},
			{
				Name:   "groups",
				Usage:  "Print the layer groups and restarts of a range of tiles as CSV",
				Flags:  flags(storeFlags, rangeFlags),
				Action: doGroups,
			},
			{
				Name:      "validate",
				Usage:     "Check that a raw archive restores every source tile byte for byte",
				ArgsUsage: "RAW_ARCHIVE_KEY",
				Flags:     storeFlags,
				Action:    doValidate,
			},
			{
				Name:      "restore",
				Usage:     "Rebuild the original dat file of one archived tile",
				ArgsUsage: "RAW_ARCHIVE_KEY GROUP OUTPUT_FILE",
				Flags:     storeFlags,
				Action:    doRestore,
			},
			{
				Name:      "mipmaps",
				Usage:     "Regenerate a mipmap archive from a raw archive",
				ArgsUsage: "RAW_ARCHIVE_KEY MIPMAP_ARCHIVE_KEY",
				Flags:     flags(storeFlags, archiveFlags),
				Action:    doMipmaps,
			},
		},
	}

	// Capture ctrl+c and other interrupts so partial archives are discarded.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.RunContext(ctx, os.Args)
	emtile.Shutdown()
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}
