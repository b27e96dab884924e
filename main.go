// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Xenixtract recovers the files and directories of a Xenix filesystem
// embedded in a raw disk or tape image.
//
// The caller must already know, from filename convention or manual
// inspection, which on-disk variant and which byte order apply; there is
// no header negotiation. All status output is human-readable log lines.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/archaix/xenixtract/internal/byteorder"
	"github.com/archaix/xenixtract/internal/diskio"
	"github.com/archaix/xenixtract/internal/xenix"
)

var log = logrus.StandardLogger()

func main() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: false})

	app := &cli.App{
		Name:  "xenixtract",
		Usage: "recover files from Xenix filesystem images",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "offset",
				Usage: "byte offset of the filesystem inside the image",
			},
			&cli.StringFlag{
				Name:  "variant",
				Value: "new",
				Usage: "on-disk layout: 'old' (cylinder groups) or 'new'",
			},
			&cli.StringFlag{
				Name:  "order",
				Value: "little",
				Usage: "byte order of the new layout: little, big or pdp",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "extract",
				Usage:     "decode the filesystem and write its tree to disk",
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Aliases:  []string{"o"},
						Required: true,
						Usage:    "output base directory",
					},
					&cli.StringSliceFlag{
						Name:  "include",
						Usage: "only extract files whose tree path matches this glob (repeatable)",
					},
				},
				Action: runExtract,
			},
			{
				Name:      "info",
				Usage:     "decode and print the superblock only",
				ArgsUsage: "IMAGE",
				Action:    runInfo,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openImage(c *cli.Context) (*xenix.FS, func(), error) {
	if c.Args().Len() != 1 {
		return nil, nil, fmt.Errorf("exactly one image argument required")
	}

	var opts xenix.Options
	switch c.String("variant") {
	case "old":
		opts.Variant = xenix.VariantOld
		if c.IsSet("order") {
			return nil, nil, fmt.Errorf("the old layout is always little-endian; --order applies to --variant new")
		}
	case "new":
		opts.Variant = xenix.VariantNew
		ord, err := byteorder.ParseOrder(c.String("order"))
		if err != nil {
			return nil, nil, err
		}
		opts.Order = ord
	default:
		return nil, nil, fmt.Errorf("unknown variant %q (want old or new)", c.String("variant"))
	}
	opts.Log = log

	f, err := os.Open(c.Args().First())
	if err != nil {
		return nil, nil, err
	}
	closer := func() { f.Close() }

	// The new layout replaces this guess once the superblock is read.
	part := diskio.NewPartition(f, c.Int64("offset"), 1024)
	fsys, err := xenix.New(part, opts)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return fsys, closer, nil
}

func runExtract(c *cli.Context) error {
	fsys, done, err := openImage(c)
	if err != nil {
		return err
	}
	defer done()

	logGeometry(fsys)

	root, err := fsys.Root()
	if err != nil {
		return err
	}
	if err := extractTree(fsys, root, c.String("out"), c.StringSlice("include"), log); err != nil {
		return err
	}

	dirs, files, bytes := treeSummary(root)
	log.WithFields(logrus.Fields{
		"dirs":  dirs,
		"files": files,
		"bytes": bytes,
	}).Info("extraction finished")
	return nil
}

func runInfo(c *cli.Context) error {
	fsys, done, err := openImage(c)
	if err != nil {
		return err
	}
	defer done()
	logGeometry(fsys)
	return nil
}

func logGeometry(fsys *xenix.FS) {
	sb := fsys.Superblock()
	f := logrus.Fields{
		"blocksize": sb.BlockSize,
		"blocks":    sb.Fsize,
		"volume":    sb.Fname,
		"pack":      sb.Fpack,
		"modified":  sb.Time,
		"order":     fsys.Order(),
	}
	if sb.NGroups > 0 {
		f["groups"] = sb.NGroups
		f["inodes/group"] = sb.NInode
	}
	log.WithFields(f).Info("filesystem geometry")
}
