// Package check implements the consistency checker (§4.9, C10): a
// read-only walk of every directory from the root that verifies each
// file's cluster chain stays in range and stays allocated in the bitmap.
// Grounded on original_source/trunk/fsck/main.c's sbck/dirck.
package check

import (
	"fmt"

	"github.com/gocarina/gocsv"
	"github.com/hashicorp/go-multierror"

	"github.com/relan/exfat/cluster"
	"github.com/relan/exfat/fs"
	"github.com/relan/exfat/nameutil"
	"github.com/relan/exfat/node"
)

// Finding is one consistency problem discovered while walking the tree,
// csv-tagged so a Report can be exported with gocsv for scripting
// (exfatfsck -csv).
type Finding struct {
	Path    string `csv:"path"`
	Cluster uint32 `csv:"cluster"`
	Message string `csv:"message"`
}

// Report summarizes one checking run: directory/file counts plus every
// finding, mirroring fsck/main.c's files_count/directories_count globals
// and its per-problem printf calls.
type Report struct {
	Files       uint64
	Directories uint64
	Findings    []Finding
}

// OK reports whether the run found no inconsistencies, the boolean behind
// exfatfsck's "seems OK" vs. "N errors found" exit message.
func (r *Report) OK() bool { return len(r.Findings) == 0 }

// CSV renders the findings as CSV rows, for exfatfsck -csv.
func (r *Report) CSV() ([]byte, error) {
	return gocsv.MarshalBytes(&r.Findings)
}

// Summary returns fsck/main.c's closing line.
func (r *Report) Summary() string {
	if r.OK() {
		return fmt.Sprintf("totally %d directories and %d files, seems OK", r.Directories, r.Files)
	}
	word := "error"
	if len(r.Findings) > 1 {
		word = "errors"
	}
	return fmt.Sprintf("totally %d directories and %d files, %d %s found", r.Directories, r.Files, len(r.Findings), word)
}

// Check walks every directory from fsys's root, recursing into
// subdirectories and verifying every file's (and every directory's) own
// cluster chain (§4.9). It never mutates the volume: an in-use-but-bad
// cluster is reported, not repaired — recovery is the node parser's
// Options.Repair job at mount time, not the checker's.
func Check(fsys *fs.FileSystem) (*Report, error) {
	report := &Report{}
	var errs *multierror.Error

	walkDir(fsys, fsys.Root(), "", report, &errs)

	return report, errs.ErrorOrNil()
}

// walkDir opens dir (filling in its children from disk if needed),
// verifies and counts each child, and recurses into subdirectories.
// Mirrors dirck's exfat_opendir/exfat_readdir loop.
func walkDir(fsys *fs.FileSystem, dir *node.Node, path string, report *Report, errs **multierror.Error) {
	if err := fsys.Opendir(dir); err != nil {
		*errs = multierror.Append(*errs, fmt.Errorf("%s: %w", displayPath(path), err))
		return
	}

	for child := dir.FirstChild; child != nil; child = child.NextSibling {
		childPath := joinPath(path, childName(child))

		verifyChain(fsys, child, childPath, report)

		if child.IsDir() {
			report.Directories++
			walkDir(fsys, child, childPath, report, errs)
		} else {
			report.Files++
		}
	}
}

// verifyChain walks a node's own cluster chain up to ceil(size/cluster
// size) clusters (§4.9), checking that each cluster number is within the
// data-cluster range and that the bitmap has it marked allocated.
func verifyChain(fsys *fs.FileSystem, n *node.Node, path string, report *Report) {
	engine := fsys.Engine()
	bmap := fsys.Bitmap()

	wanted := engine.BytesToClusters(n.Size)
	if wanted == 0 {
		return
	}

	c := n.Chain.StartCluster
	for i := uint32(0); i < wanted; i++ {
		if c < cluster.FirstDataCluster || c-cluster.FirstDataCluster >= bmap.ClusterCount() {
			report.Findings = append(report.Findings, Finding{
				Path:    path,
				Cluster: c,
				Message: fmt.Sprintf("file %s has invalid cluster %d", path, c),
			})
			return
		}
		if !bmap.InUse(c) {
			report.Findings = append(report.Findings, Finding{
				Path:    path,
				Cluster: c,
				Message: fmt.Sprintf("cluster %d of file %s is not allocated", c, path),
			})
		}

		if i == wanted-1 {
			break
		}
		next, err := engine.NextCluster(n.IsContiguous(), c)
		if err != nil {
			report.Findings = append(report.Findings, Finding{
				Path:    path,
				Cluster: c,
				Message: fmt.Sprintf("file %s: reading FAT entry for cluster %d: %v", path, c, err),
			})
			return
		}
		if cluster.Invalid(next) {
			report.Findings = append(report.Findings, Finding{
				Path:    path,
				Cluster: c,
				Message: fmt.Sprintf("file %s has a chain shorter than its size (%d clusters, needs %d)", path, i+1, wanted),
			})
			return
		}
		c = next
	}
}

func childName(n *node.Node) string {
	name, err := nameutil.Decode(n.Name)
	if err != nil {
		return "?"
	}
	return name
}

func joinPath(parent, name string) string {
	if parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}

func displayPath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
