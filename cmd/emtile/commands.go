package main

import (
	"fmt"
	"os"
	"path"

	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"

	"github.com/janelia-flyem/emtile/archive"
	"github.com/janelia-flyem/emtile/container"
	"github.com/janelia-flyem/emtile/convert"
	"github.com/janelia-flyem/emtile/emtile"
	"github.com/janelia-flyem/emtile/layer"
	"github.com/janelia-flyem/emtile/storage"
)

var convertFlags = []cli.Flag{
	&cli.BoolFlag{Name: "skip-existing", Value: true, Usage: "leave layers with existing archives alone"},
	&cli.BoolFlag{Name: "no-verify", Usage: "don't restore raw archives to check them"},
	&cli.BoolFlag{Name: "fail-on-tile-count-change", Usage: "treat a change in tiles per layer as an error"},
	&cli.BoolFlag{Name: "masks", Usage: "write a PNG mask per tile size"},
}

// loadConfig reads the optional config file, lets flags override it, and starts
// logging.
func loadConfig(c *cli.Context) (*convert.Config, error) {
	cfg, err := convert.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	cc := &cfg.Convert
	for name, dst := range map[string]*string{
		"source":      &cc.Source,
		"dest":        &cc.Dest,
		"prefix":      &cc.Prefix,
		"first":       &cc.First,
		"last":        &cc.Last,
		"compression": &cc.Compression,
	} {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	for name, dst := range map[string]*int{
		"start":            &cc.Start,
		"stop":             &cc.Stop,
		"workers":          &cc.Workers,
		"max-mipmap-level": &cc.MaxMipmapLevel,
	} {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	for name, dst := range map[string]*bool{
		"skip-existing":             &cc.SkipExisting,
		"overwrite":                 &cc.Overwrite,
		"fail-on-tile-count-change": &cc.FailOnTileCountChange,
		"masks":                     &cfg.Mask.Artifacts,
	} {
		if c.IsSet(name) {
			*dst = c.Bool(name)
		}
	}
	if c.Bool("no-verify") {
		cc.Verify = false
	}
	if _, err := container.ParseCompression(cc.Compression); err != nil {
		return nil, err
	}
	cfg.Logging.SetLogger()
	return cfg, nil
}

func openStore(c *cli.Context, ref, what string) (*storage.Store, error) {
	if ref == "" {
		return nil, fmt.Errorf("no %s store given", what)
	}
	return storage.Open(c.Context, ref)
}

func doConvert(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	conv, err := convert.Open(c.Context, cfg)
	if err != nil {
		return err
	}
	defer conv.Close()
	s, err := conv.Run(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("%d tiles in %d groups: converted %d layers, skipped %d\n",
		s.Tiles, s.Groups, s.Converted, s.Skipped)
	if s.ArtifactErr != nil {
		fmt.Fprintf(os.Stderr, "Artifact failures:\n%v\n", s.ArtifactErr)
	}
	return nil
}

func doGroups(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	src, err := openStore(c, cfg.Convert.Source, "source")
	if err != nil {
		return err
	}
	conv := convert.New(cfg, src, nil)
	defer conv.Close()
	plan, err := conv.Plan(c.Context)
	if err != nil {
		return err
	}
	if plan.HasNominalZ {
		emtile.Infof("Nominal z resolution %.0f nm\n", plan.NominalZ)
	}
	return layer.WriteGroupReport(os.Stdout, plan.Groups)
}

func doValidate(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected a raw archive key, got %d arguments", c.NArg())
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	src, err := openStore(c, cfg.Convert.Source, "source")
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := openStore(c, cfg.Convert.Dest, "destination")
	if err != nil {
		return err
	}
	defer dst.Close()

	a, err := archive.Open(c.Context, dst, c.Args().First())
	if err != nil {
		return err
	}
	var result *multierror.Error
	groups := a.RawGroups()
	for _, g := range groups {
		name, err := g.Attrs.String(archive.SourceAttr)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("group %s: %w", g.Name, err))
			continue
		}
		original, err := src.ReadAll(c.Context, path.Join(cfg.Convert.Prefix, name))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := archive.Validate(g, original); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	fmt.Printf("%d tiles in %q match their sources\n", len(groups), a.Key)
	return nil
}

func doRestore(c *cli.Context) error {
	if c.NArg() != 3 {
		return fmt.Errorf("expected archive key, group and output file, got %d arguments", c.NArg())
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dst, err := openStore(c, cfg.Convert.Dest, "destination")
	if err != nil {
		return err
	}
	defer dst.Close()
	a, err := archive.Open(c.Context, dst, c.Args().Get(0))
	if err != nil {
		return err
	}
	g, err := a.Group(c.Args().Get(1))
	if err != nil {
		return err
	}
	b, err := archive.Restore(g)
	if err != nil {
		return err
	}
	out := c.Args().Get(2)
	if err := os.WriteFile(out, b, 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s to %s\n", emtile.ByteSize(int64(len(b))), out)
	return nil
}

func doMipmaps(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected raw and mipmap archive keys, got %d arguments", c.NArg())
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dst, err := openStore(c, cfg.Convert.Dest, "destination")
	if err != nil {
		return err
	}
	defer dst.Close()
	return archive.RegenerateMipmaps(c.Context, dst, c.Args().Get(0), c.Args().Get(1),
		cfg.Convert.Overwrite, cfg.ArchiveOptions(), cfg.MipmapOptions())
}
