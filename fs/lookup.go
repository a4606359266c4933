package fs

import (
	"strings"

	"github.com/relan/exfat"
	"github.com/relan/exfat/nameutil"
	"github.com/relan/exfat/node"
)

// Lookup resolves a "/"-separated path from the root, pinning (GetNode) the
// node it returns. The caller is responsible for a matching PutNode. It is
// grounded on original_source/libexfat/lookup.c's exfat_lookup, generalized
// from that function's single-component contract to walk a whole path the
// way the teacher's BaseDriver.getObjectAtPathNoFollow does, minus symlink
// resolution (exFAT has no symlinks).
func (fsys *FileSystem) Lookup(path string) (*node.Node, error) {
	dir := fsys.root
	node.GetNode(dir)

	for _, component := range strings.Split(path, "/") {
		if component == "" || component == "." {
			continue
		}
		if component == ".." {
			parent := dir.Parent
			if parent == nil {
				parent = dir // root's ".." is root
			} else {
				node.GetNode(parent)
			}
			if parent != dir {
				fsys.putNode(dir)
			}
			dir = parent
			continue
		}

		if !dir.IsDir() {
			fsys.putNode(dir)
			return nil, exfat.ErrNotADirectory
		}
		if err := fsys.ensureCached(dir); err != nil {
			fsys.putNode(dir)
			return nil, err
		}

		child, err := fsys.findChild(dir, component)
		if err != nil {
			fsys.putNode(dir)
			return nil, err
		}
		node.GetNode(child)
		fsys.putNode(dir)
		dir = child
	}

	return dir, nil
}

// PutNode releases a reference obtained from Lookup (or from Create/Mkdir's
// returned node), reclaiming the node's clusters once it is both UNLINKED
// and unreferenced (§3.2, §4.6).
func (fsys *FileSystem) PutNode(n *node.Node) {
	fsys.putNode(n)
}

func (fsys *FileSystem) putNode(n *node.Node) {
	node.PutNode(n)
	if n.Unlinked() && n.References() == 0 {
		if err := fsys.reclaim(n); err != nil && fsys.Logger != nil {
			fsys.Logger.Warnf("reclaiming unlinked node: %v", err)
		}
	}
}

// findChild scans dir's already-cached children for one whose folded name
// equals component's folded form (§4.6's name comparison rule: exFAT
// compares names case-insensitively through the upcase table, never
// byte-for-byte).
func (fsys *FileSystem) findChild(dir *node.Node, component string) (*node.Node, error) {
	units, err := nameutil.Encode(component)
	if err != nil {
		return nil, exfat.ErrInvalidName.Wrap(err)
	}

	for child := dir.FirstChild; child != nil; child = child.NextSibling {
		if fsys.upcase.Equal(units, child.Name) {
			return child, nil
		}
	}
	return nil, exfat.ErrNotFound
}

// split breaks path into its parent directory path and final component,
// the shape Create/Mkdir/Unlink/Rename all need: resolve everything but the
// last segment, then operate on that segment within the resolved parent.
func split(path string) (parent string, name string) {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}
