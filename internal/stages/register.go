package stages

import "github.com/go-lasr/lasr/internal/stage"

// NewRegistry builds a stage.Registry with every concrete stage this
// package implements, keyed by its pipeline-JSON algoname.
func NewRegistry() *stage.Registry {
	reg := stage.NewRegistry()

	reg.Register("reader_las", NewLasReader)

	reg.Register("triangulate", NewTriangulate)
	reg.Register("rasterize", NewRasterize)
	reg.Register("local_maximum", NewLocalMaximum)
	reg.Register("region_growing", NewRegionGrowing)
	reg.Register("transform_with", NewTransformWith)
	reg.Register("classify_with_ptd", NewClassifyWithPtd)

	reg.Register("write_las", NewLasWriter)
	reg.Register("write_copc", NewCopcWriter)
	reg.Register("write_pcd", NewPcdWriter)
	reg.Register("write_vpc", NewVpcWriter)
	reg.Register("write_lax", NewLaxWriter)

	return reg
}
