// Command mkexfatfs creates a fresh exFAT volume on a device or image file
// (§4.8, §6.3, C9). Flags mirror upstream mkfs's main.c: -i sets the volume
// serial, -n the label, -p the first sector, -s sectors-per-cluster.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/relan/exfat"
	"github.com/relan/exfat/format"
	"github.com/relan/exfat/presets"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{Name: "V", Usage: "print version and exit"}

	app := &cli.App{
		Name:      "mkexfatfs",
		Usage:     "create an exFAT file system",
		ArgsUsage: "DEVICE",
		Version:   exfat.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "i", Usage: "volume serial number, in hex"},
			&cli.StringFlag{Name: "n", Usage: "volume label"},
			&cli.Uint64Flag{Name: "p", Usage: "first sector of the partition"},
			&cli.UintFlag{Name: "s", Usage: "sectors per cluster (must be a power of two)"},
			&cli.StringFlag{Name: "preset", Usage: "named formatting preset (see presets.Names)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mkexfatfs:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one device argument is required", 1)
	}
	path := c.Args().First()

	info, err := os.Stat(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("mkexfatfs: %s: %v", path, err), 1)
	}
	size := info.Size()

	opts := format.Options{
		Label:       c.String("n"),
		FirstSector: c.Uint64("p"),
	}

	if preset := c.String("preset"); preset != "" {
		p, err := presets.Get(preset)
		if err != nil {
			return cli.Exit(fmt.Sprintf("mkexfatfs: %v", err), 1)
		}
		opts.SectorsPerCluster = p.SectorsPerCluster
	}
	if spc := c.Uint("s"); spc != 0 {
		opts.SectorsPerCluster = uint32(spc)
	}

	if serialHex := c.String("i"); serialHex != "" {
		serial, err := strconv.ParseUint(serialHex, 16, 32)
		if err != nil {
			return cli.Exit(fmt.Sprintf("mkexfatfs: invalid volume serial %q: %v", serialHex, err), 1)
		}
		opts.VolumeSerial = uint32(serial)
	}

	if err := format.Format(path, size, opts); err != nil {
		return cli.Exit(fmt.Sprintf("mkexfatfs: %v", err), 1)
	}
	return nil
}
