// Command exfatattrib prints or changes a file's DOS attribute bits
// (§4.9, §6.3). With no [rRiIsSaA] flags it mounts read-only and prints the
// current flags; with any of them it mounts read-write, sets/clears the
// requested bits, and flushes the change. Grounded on
// original_source/attrib/main.c.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/relan/exfat"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/fs"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{Name: "V", Usage: "print version and exit"}

	app := &cli.App{
		Name:      "exfatattrib",
		Usage:     "display or change an exFAT file's attributes",
		ArgsUsage: "DEVICE FILE",
		Version:   exfat.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "r", Usage: "set read-only flag"},
			&cli.BoolFlag{Name: "R", Usage: "clear read-only flag"},
			&cli.BoolFlag{Name: "i", Usage: "set hidden flag"},
			&cli.BoolFlag{Name: "I", Usage: "clear hidden flag"},
			&cli.BoolFlag{Name: "s", Usage: "set system flag"},
			&cli.BoolFlag{Name: "S", Usage: "clear system flag"},
			&cli.BoolFlag{Name: "a", Usage: "set archive flag"},
			&cli.BoolFlag{Name: "A", Usage: "clear archive flag"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "exfatattrib:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: exfatattrib [FLAGS] DEVICE FILE", 1)
	}
	path := c.Args().Get(0)
	filePath := c.Args().Get(1)

	var addFlags, clearFlags uint16
	addIf(c, "r", exfat.AttribReadOnly, &addFlags)
	addIf(c, "i", exfat.AttribHidden, &addFlags)
	addIf(c, "s", exfat.AttribSystem, &addFlags)
	addIf(c, "a", exfat.AttribArchive, &addFlags)
	addIf(c, "R", exfat.AttribReadOnly, &clearFlags)
	addIf(c, "I", exfat.AttribHidden, &clearFlags)
	addIf(c, "S", exfat.AttribSystem, &clearFlags)
	addIf(c, "A", exfat.AttribArchive, &clearFlags)

	if addFlags&clearFlags != 0 {
		return cli.Exit("exfatattrib: can't set and clear the same flag", 1)
	}

	mode := device.ModeReadWrite
	if addFlags|clearFlags == 0 {
		mode = device.ModeReadOnly
	}

	fsys, err := fs.Mount(path, fs.Options{Mode: mode})
	if err != nil {
		return cli.Exit(fmt.Sprintf("exfatattrib: failed to mount %s: %v", path, err), 1)
	}
	defer fs.Unmount(fsys)

	n, err := fsys.Lookup(filePath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("exfatattrib: failed to look up %s: %v", filePath, err), 1)
	}
	defer fsys.PutNode(n)

	if addFlags|clearFlags != 0 {
		attrib := (n.Attrib | addFlags) &^ clearFlags
		if attrib != n.Attrib {
			if err := fsys.SetAttrib(n, attrib); err != nil {
				return cli.Exit(fmt.Sprintf("exfatattrib: failed to change %s: %v", filePath, err), 1)
			}
		}
		return nil
	}

	printAttribute(n.Attrib, exfat.AttribReadOnly, "Read-only")
	printAttribute(n.Attrib, exfat.AttribHidden, "Hidden")
	printAttribute(n.Attrib, exfat.AttribSystem, "System")
	printAttribute(n.Attrib, exfat.AttribArchive, "Archive")
	printAttribute(n.Attrib, exfat.AttribVolume, "Volume")
	printAttribute(n.Attrib, exfat.AttribDir, "Directory")
	return nil
}

func addIf(c *cli.Context, name string, bit uint16, flags *uint16) {
	if c.Bool(name) {
		*flags |= bit
	}
}

func printAttribute(attribs, bit uint16, label string) {
	yesNo := "no"
	if attribs&bit != 0 {
		yesNo = "yes"
	}
	fmt.Printf("%9s: %s\n", label, yesNo)
}
