// Command mkfs formats a disk image file with an empty file system and
// optionally prints a digest of the resulting image.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
	"github.com/zeebo/blake3"

	"github.com/tinykern/tinyfs/disk"
	"github.com/tinykern/tinyfs/fs"
)

func main() {
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		TimeFormat: time.Kitchen,
	}))

	app := &cli.App{
		Name:      "mkfs",
		Usage:     "format a disk image with an empty tinyfs file system",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "size",
				Value: "1MiB",
				Usage: "volume size (e.g. 512KiB, 4MiB)",
			},
			&cli.Uint64Flag{
				Name:  "inodes",
				Usage: "number of inodes (0 picks a default)",
			},
			&cli.BoolFlag{
				Name:  "digest",
				Usage: "print a blake3 digest of the formatted image",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: mkfs [flags] IMAGE", 1)
			}
			path := c.Args().First()

			bytes, err := humanize.ParseBytes(c.String("size"))
			if err != nil {
				return fmt.Errorf("parsing --size: %w", err)
			}
			nblocks := bytes / disk.BlockSize
			if nblocks*disk.BlockSize != bytes {
				return fmt.Errorf("--size must be a multiple of the %d-byte block size", disk.BlockSize)
			}

			d, err := disk.NewFileDisk(path, nblocks)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer d.Close()

			sb, err := fs.MkFs(d, c.Uint64("inodes"))
			if err != nil {
				return err
			}
			log.Info("formatted image",
				"path", path,
				"size", humanize.IBytes(sb.Size*disk.BlockSize),
				"blocks", sb.Size,
				"inodes", sb.Ninodes,
				"log", sb.Nlog,
				"data", sb.Nblocks)

			if c.Bool("digest") {
				h := blake3.New()
				for bn := uint64(0); bn < sb.Size; bn++ {
					b, err := d.Read(bn)
					if err != nil {
						return fmt.Errorf("reading back block %d: %w", bn, err)
					}
					h.Write(b)
				}
				fmt.Printf("blake3:%x  %s\n", h.Sum(nil), path)
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("mkfs failed", "err", err)
		os.Exit(1)
	}
}
