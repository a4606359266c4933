// Command exfatfsck checks an exFAT volume for consistency (§4.9, C10).
// -a and -y both mean "fix problems automatically, no prompting"; -p maps to
// exfat.RepairPrompt, which the node parser handles exactly like
// exfat.RepairAuto, so it repairs the same problems without prompting. -n mounts
// read-only and never attempts a fix. Grounded on
// original_source/trunk/fsck/main.c's sbck/dirck/fsck driving loop.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/relan/exfat"
	"github.com/relan/exfat/check"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/fs"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{Name: "V", Usage: "print version and exit"}

	app := &cli.App{
		Name:      "exfatfsck",
		Usage:     "check an exFAT file system for consistency",
		ArgsUsage: "DEVICE",
		Version:   exfat.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "a", Usage: "fix problems automatically, without prompting"},
			&cli.BoolFlag{Name: "y", Usage: "alias for -a"},
			&cli.BoolFlag{Name: "p", Usage: "fix problems automatically (same repairs as -a)"},
			&cli.BoolFlag{Name: "n", Usage: "read-only check, never repair"},
			&cli.BoolFlag{Name: "csv", Usage: "print findings as CSV instead of plain text"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "exfatfsck:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one device argument is required", 1)
	}
	path := c.Args().First()

	opts := fs.Options{Mode: device.ModeReadWrite}
	switch {
	case c.Bool("n"):
		opts.Mode = device.ModeReadOnly
		opts.Repair = exfat.RepairNone
	case c.Bool("a"), c.Bool("y"):
		opts.Repair = exfat.RepairAuto
	case c.Bool("p"):
		opts.Repair = exfat.RepairPrompt
	default:
		opts.Repair = exfat.RepairNone
	}

	fmt.Printf("Checking file system on %s.\n", path)

	fsys, err := fs.Mount(path, opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("exfatfsck: %v", err), 1)
	}
	defer fs.Unmount(fsys)

	report, err := check.Check(fsys)
	if err != nil {
		return cli.Exit(fmt.Sprintf("exfatfsck: %v", err), 1)
	}

	if c.Bool("csv") {
		out, err := report.CSV()
		if err != nil {
			return cli.Exit(fmt.Sprintf("exfatfsck: %v", err), 1)
		}
		os.Stdout.Write(out)
	} else {
		for _, f := range report.Findings {
			fmt.Println(f.Message)
		}
	}

	fmt.Println(report.Summary())

	if !report.OK() {
		return cli.Exit("", 1)
	}
	return nil
}
