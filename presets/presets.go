// Package presets holds named exFAT formatting presets (mkexfatfs
// -preset NAME): common cluster-size choices for small flash drives, SD
// cards and large disks, so a caller doesn't need to know the
// sectors-per-cluster heuristic format.Options exposes directly.
//
// Adapted from the teacher's disks.DiskGeometry catalog
// (disks/disks.go): same gocsv-unmarshaled, slug-keyed lookup shape, but
// a real embedded file rather than a dangling "go:embed" comment with no
// backing data, and a map that's allocated before anything is inserted
// into it.
package presets

import (
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
)

//go:embed geometries.csv
var rawCSV string

// Preset is one named formatting recommendation.
type Preset struct {
	Slug              string `csv:"slug"`
	Name              string `csv:"name"`
	MinSizeBytes      uint64 `csv:"min_size_bytes"`
	MaxSizeBytes      uint64 `csv:"max_size_bytes"`
	SectorsPerCluster uint32 `csv:"sectors_per_cluster"`
	Notes             string `csv:"notes"`
}

// Fits reports whether the preset's size range covers a volume of
// sizeBytes. A zero MaxSizeBytes means unbounded.
func (p Preset) Fits(sizeBytes uint64) bool {
	if sizeBytes < p.MinSizeBytes {
		return false
	}
	return p.MaxSizeBytes == 0 || sizeBytes <= p.MaxSizeBytes
}

var byName map[string]Preset

func init() {
	byName = make(map[string]Preset)
	err := gocsv.UnmarshalToCallback(strings.NewReader(rawCSV), func(row Preset) error {
		if _, exists := byName[row.Slug]; exists {
			return fmt.Errorf("duplicate slug %q in geometries.csv", row.Slug)
		}
		byName[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(fmt.Errorf("presets: parsing embedded geometries.csv: %w", err))
	}
}

// Get looks up a preset by its slug (e.g. "sdcard", "hdd-large").
func Get(slug string) (Preset, error) {
	preset, ok := byName[slug]
	if !ok {
		return Preset{}, fmt.Errorf("presets: no preset named %q", slug)
	}
	return preset, nil
}

// ForSize picks the preset whose size range covers sizeBytes, preferring
// the narrowest (smallest MaxSizeBytes, zero last) match, the same way
// format.planLayout's automatic heuristic escalates cluster size only
// as the volume grows.
func ForSize(sizeBytes uint64) (Preset, error) {
	var best Preset
	found := false
	for _, p := range byName {
		if !p.Fits(sizeBytes) {
			continue
		}
		if !found || narrower(p, best) {
			best = p
			found = true
		}
	}
	if !found {
		return Preset{}, fmt.Errorf("presets: no preset covers a %d-byte volume", sizeBytes)
	}
	return best, nil
}

func narrower(a, b Preset) bool {
	if a.MaxSizeBytes == 0 {
		return false
	}
	if b.MaxSizeBytes == 0 {
		return true
	}
	return a.MaxSizeBytes < b.MaxSizeBytes
}

// Names returns every known preset slug, sorted for stable CLI -help
// output.
func Names() []string {
	names := make([]string, 0, len(byName))
	for slug := range byName {
		names = append(names, slug)
	}
	sort.Strings(names)
	return names
}
