// Package vpc implements the virtual-point-cloud manifest (*.vpc): a
// UTF-8, STAC-compatible JSON FeatureCollection where each feature
// describes one LAS/LAZ/COPC file. Grounded on go-gsf's
// json.go (WriteJson/JsonDumps's VFS-backed marshal pattern, generalised
// here from an arbitrary blob to this package's typed Manifest/Feature).
package vpc

import (
	"encoding/json"
	"fmt"
	"math"
	"path"
	"path/filepath"
	"strings"
	"time"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/go-lasr/lasr/internal/point"
)

// StacVersion is the STAC spec version the manifest claims compliance
// with.
const StacVersion = "1.0.0"

var stacExtensions = []string{
	"https://stac-extensions.github.io/pointcloud/v1.0.0/schema.json",
	"https://stac-extensions.github.io/projection/v1.1.0/schema.json",
}

// Asset is one named file reference in a feature, e.g. the "data" asset.
type Asset struct {
	Href  string   `json:"href"`
	Roles []string `json:"roles"`
}

// Properties carries the point-cloud/projection metadata of one feature.
type Properties struct {
	Datetime     string    `json:"datetime"`
	Count        uint64    `json:"pc:count"`
	Type         string    `json:"pc:type"`
	Bbox         []float64 `json:"proj:bbox"`
	WKT2         string    `json:"proj:wkt2,omitempty"`
	EPSG         int       `json:"proj:epsg,omitempty"`
	Indexed      bool      `json:"index:indexed"`
}

// Feature describes one file in the virtual point cloud.
type Feature struct {
	Type            string            `json:"type"`
	StacVersion     string            `json:"stac_version"`
	StacExtensions  []string          `json:"stac_extensions"`
	ID              string            `json:"id"`
	Links           []any             `json:"links"`
	Assets          map[string]Asset  `json:"assets"`
	Properties      Properties        `json:"properties"`
}

// Manifest is the top-level *.vpc document.
type Manifest struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// bbox3 formats a file's bounding box to the proj:bbox array, with or
// without Z depending on whether the file carries elevation extents,
// always to three decimal places.
func bbox3(d point.FileDescriptor, haveZ bool) []float64 {
	if haveZ {
		return []float64{
			round3(d.Bbox.XMin), round3(d.Bbox.YMin), round3(d.ZMin),
			round3(d.Bbox.XMax), round3(d.Bbox.YMax), round3(d.ZMax),
		}
	}
	return []float64{round3(d.Bbox.XMin), round3(d.Bbox.YMin), round3(d.Bbox.XMax), round3(d.Bbox.YMax)}
}

// relHref turns an absolute file path into a manifest-relative, forward
// slash href.
func relHref(manifestDir, filePath string) string {
	rel, err := filepath.Rel(manifestDir, filePath)
	if err != nil {
		rel = filePath
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, ".") {
		rel = "./" + rel
	}
	return rel
}

// Build constructs a Manifest from a set of discovered file descriptors,
// writing hrefs relative to manifestDir.
func Build(descriptors []point.FileDescriptor, manifestDir string) *Manifest {
	m := &Manifest{Type: "FeatureCollection"}
	for _, d := range descriptors {
		slashPath := filepath.ToSlash(d.Path)
		id := strings.TrimSuffix(path.Base(slashPath), path.Ext(slashPath))
		f := Feature{
			Type:           "Feature",
			StacVersion:    StacVersion,
			StacExtensions: stacExtensions,
			ID:             id,
			Links:          []any{},
			Assets: map[string]Asset{
				"data": {Href: relHref(manifestDir, d.Path), Roles: []string{"data"}},
			},
			Properties: Properties{
				Datetime: time.Time{}.UTC().Format(time.RFC3339),
				Count:    d.Count,
				Type:     "lidar",
				Bbox:     bbox3(d, d.ZMax != 0 || d.ZMin != 0),
				Indexed:  d.HasIndex,
			},
		}
		if d.CRS.EPSG != 0 {
			f.Properties.EPSG = d.CRS.EPSG
		} else {
			f.Properties.WKT2 = d.CRS.WKT
		}
		m.Features = append(m.Features, f)
	}
	return m
}

// Marshal serialises the manifest with four-space indentation, matching
// go-gsf's JsonIndentDumps convention.
func Marshal(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "    ")
}

// Unmarshal parses a manifest document, rejecting anything that isn't a
// STAC FeatureCollection.
func Unmarshal(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("vpc: parsing manifest: %w", err)
	}
	if m.Type != "FeatureCollection" {
		return nil, fmt.Errorf("vpc: unsupported manifest type %q, want \"FeatureCollection\"", m.Type)
	}
	return &m, nil
}

// Write serialises and writes the manifest through a TileDB VFS handle,
// so manifests can be written to local disk or an object store URI alike
// (go-gsf's json.go WriteJson pattern).
func Write(uri string, m *Manifest, cfg *tiledb.Config) (int, error) {
	ctx, err := tiledb.NewContext(cfg)
	if err != nil {
		return 0, fmt.Errorf("vpc: tiledb context: %w", err)
	}
	defer ctx.Free()

	vfsHandle, err := tiledb.NewVFS(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("vpc: tiledb vfs: %w", err)
	}
	defer vfsHandle.Free()

	fh, err := vfsHandle.Open(uri, tiledb.TILEDB_VFS_WRITE)
	if err != nil {
		return 0, fmt.Errorf("vpc: opening %s for write: %w", uri, err)
	}
	defer fh.Close()

	data, err := Marshal(m)
	if err != nil {
		return 0, err
	}

	n, err := fh.Write(data)
	if err != nil {
		return 0, fmt.Errorf("vpc: writing %s: %w", uri, err)
	}
	return n, nil
}

// Read reads and parses a manifest through a TileDB VFS handle.
func Read(uri string, size uint64, cfg *tiledb.Config) (*Manifest, error) {
	ctx, err := tiledb.NewContext(cfg)
	if err != nil {
		return nil, fmt.Errorf("vpc: tiledb context: %w", err)
	}
	defer ctx.Free()

	vfsHandle, err := tiledb.NewVFS(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vpc: tiledb vfs: %w", err)
	}
	defer vfsHandle.Free()

	fh, err := vfsHandle.Open(uri, tiledb.TILEDB_VFS_READ)
	if err != nil {
		return nil, fmt.Errorf("vpc: opening %s for read: %w", uri, err)
	}
	defer fh.Close()

	buf := make([]byte, size)
	if _, err := fh.Read(buf); err != nil {
		return nil, fmt.Errorf("vpc: reading %s: %w", uri, err)
	}
	return Unmarshal(buf)
}
