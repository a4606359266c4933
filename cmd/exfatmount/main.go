//go:build linux || darwin

// Command exfatmount mounts an exFAT volume as a FUSE file system (§6.2,
// §6.3). -d keeps the process in the foreground and logs every FUSE request;
// -o takes the same comma-separated option string fs.ParseOptions already
// understands (ro, noatime, uid=, gid=, umask=, dmask=, fmask=, repair=).
// Grounded on original_source/fuse/main.c's fuse_operations table, wired to
// bazil.org/fuse/fs the way ostafen-digler/internal/fuse/{fuse,mount_linux}.go
// wire their own read-only recovery view: a Root() that returns a Dir, a Dir
// that implements Lookup/ReadDirAll, a File that implements Read/Write.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/urfave/cli/v2"

	"github.com/relan/exfat"
	"github.com/relan/exfat/driver"
	"github.com/relan/exfat/fs"
	"github.com/relan/exfat/nameutil"
	"github.com/relan/exfat/node"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{Name: "V", Usage: "print version and exit"}

	app := &cli.App{
		Name:      "exfatmount",
		Usage:     "mount an exFAT file system with FUSE",
		ArgsUsage: "DEVICE MOUNTPOINT",
		Version:   exfat.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "d", Usage: "run in the foreground and log requests"},
			&cli.StringFlag{Name: "o", Usage: "comma-separated mount options"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "exfatmount:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: exfatmount DEVICE MOUNTPOINT", 1)
	}
	spec := c.Args().Get(0)
	mountpoint := c.Args().Get(1)

	opts, err := fs.ParseOptions(c.String("o"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("exfatmount: %v", err), 1)
	}

	fsys, err := fs.Mount(spec, opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("exfatmount: failed to mount %s: %v", spec, err), 1)
	}
	defer fs.Unmount(fsys)

	mountOpts := []fuse.MountOption{
		fuse.FSName("exfat"),
		fuse.Subtype("exfatfs"),
		fuse.VolumeName(fsys.Label()),
	}
	if opts.Flags.ReadOnly() {
		mountOpts = append(mountOpts, fuse.ReadOnly())
	}

	conn, err := fuse.Mount(mountpoint, mountOpts...)
	if err != nil {
		return cli.Exit(fmt.Sprintf("exfatmount: failed to mount fuse at %s: %v", mountpoint, err), 1)
	}
	defer conn.Close()

	debug := c.Bool("d")
	srv := fusefs.New(conn, &fusefs.Config{
		Debug: func(msg interface{}) {
			if debug {
				fmt.Fprintln(os.Stderr, msg)
			}
		},
	})

	volume := &volumeFS{fsys: fsys}
	if err := srv.Serve(volume); err != nil {
		return cli.Exit(fmt.Sprintf("exfatmount: %v", err), 1)
	}

	<-conn.Ready
	if err := conn.MountError; err != nil {
		return cli.Exit(fmt.Sprintf("exfatmount: %v", err), 1)
	}
	return nil
}

// volumeFS is the top-level bazil.org/fuse/fs.FS implementation: one mounted
// exFAT volume.
type volumeFS struct {
	fsys *fs.FileSystem
}

func (v *volumeFS) Root() (fusefs.Node, error) {
	return &dirNode{fsys: v.fsys, node: v.fsys.Root(), path: ""}, nil
}

func (v *volumeFS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	stat := driver.Statfs(v.fsys)
	resp.Blocks = stat.TotalBlocks
	resp.Bfree = stat.BlocksFree
	resp.Bavail = stat.BlocksAvailable
	resp.Files = stat.FilesTotal
	resp.Ffree = stat.FilesFree
	resp.Bsize = uint32(stat.BlockSize)
	resp.Frsize = uint32(stat.BlockSize)
	resp.Namelen = uint32(stat.MaxNameLength)
	return nil
}

// dirNode wraps a directory node plus its "/"-joined path from the root, so
// every path-based fs.FileSystem operation (Create, Mkdir, Unlink, Rename)
// can be called directly instead of re-walking from root on each request.
type dirNode struct {
	fsys *fs.FileSystem
	node *node.Node
	path string
}

// fileNode is dirNode's counterpart for regular files.
type fileNode struct {
	fsys *fs.FileSystem
	node *node.Node
	path string
}

func (d *dirNode) Attr(ctx context.Context, a *fuse.Attr) error {
	applyAttr(a, driver.NodeStat(d.fsys, d.node))
	return nil
}

func (d *dirNode) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	childPath := joinPath(d.path, name)
	n, err := d.fsys.Lookup(childPath)
	if err != nil {
		return nil, toFuseErr(err)
	}
	if n.IsDir() {
		return &dirNode{fsys: d.fsys, node: n, path: childPath}, nil
	}
	return &fileNode{fsys: d.fsys, node: n, path: childPath}, nil
}

func (d *dirNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	if err := d.fsys.Opendir(d.node); err != nil {
		return nil, toFuseErr(err)
	}

	var entries []fuse.Dirent
	for child := d.node.FirstChild; child != nil; child = child.NextSibling {
		name, err := nameutil.Decode(child.Name)
		if err != nil {
			continue
		}
		typ := fuse.DT_File
		if child.IsDir() {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Inode: uint64(child.Chain.StartCluster), Name: name, Type: typ})
	}
	return entries, nil
}

func (d *dirNode) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	childPath := joinPath(d.path, req.Name)
	if err := d.fsys.Mkdir(childPath); err != nil {
		return nil, toFuseErr(err)
	}
	n, err := d.fsys.Lookup(childPath)
	if err != nil {
		return nil, toFuseErr(err)
	}
	return &dirNode{fsys: d.fsys, node: n, path: childPath}, nil
}

func (d *dirNode) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	childPath := joinPath(d.path, req.Name)
	n, err := d.fsys.Create(childPath)
	if err != nil {
		return nil, nil, toFuseErr(err)
	}
	f := &fileNode{fsys: d.fsys, node: n, path: childPath}
	return f, f, nil
}

func (d *dirNode) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := joinPath(d.path, req.Name)
	if req.Dir {
		return toFuseErr(d.fsys.Rmdir(childPath))
	}
	return toFuseErr(d.fsys.Unlink(childPath))
}

func (d *dirNode) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	destDir, ok := newDir.(*dirNode)
	if !ok {
		return fuse.EIO
	}
	oldPath := joinPath(d.path, req.OldName)
	newPath := joinPath(destDir.path, req.NewName)
	return toFuseErr(d.fsys.Rename(oldPath, newPath))
}

func (d *dirNode) Forget() {
	if d.path != "" {
		d.fsys.PutNode(d.node)
	}
}

func (f *fileNode) Attr(ctx context.Context, a *fuse.Attr) error {
	applyAttr(a, driver.NodeStat(f.fsys, f.node))
	return nil
}

func (f *fileNode) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := f.fsys.Read(f.node, buf, uint64(req.Offset))
	if err != nil && !errors.Is(err, exfat.ErrNotFound) {
		return toFuseErr(err)
	}
	resp.Data = buf[:n]
	return nil
}

func (f *fileNode) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := f.fsys.Write(f.node, req.Data, uint64(req.Offset))
	if err != nil {
		return toFuseErr(err)
	}
	resp.Size = n
	return nil
}

func (f *fileNode) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := f.fsys.Truncate(f.node, req.Size); err != nil {
			return toFuseErr(err)
		}
	}
	applyAttr(&resp.Attr, driver.NodeStat(f.fsys, f.node))
	return nil
}

func (f *fileNode) Forget() {
	f.fsys.PutNode(f.node)
}

func applyAttr(a *fuse.Attr, stat exfat.FileStat) {
	a.Size = uint64(stat.Size)
	a.Mode = stat.ModeFlags
	a.Uid = stat.Uid
	a.Gid = stat.Gid
	a.Mtime = stat.LastModified
	a.Atime = stat.LastAccessed
	a.Blocks = uint64(stat.NumBlocks)
	a.BlockSize = uint32(stat.BlockSize)
}

func toFuseErr(err error) error {
	if err == nil {
		return nil
	}
	var de *exfat.DriverError
	if errors.As(err, &de) {
		return fuse.Errno(de.Errno)
	}
	return err
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
