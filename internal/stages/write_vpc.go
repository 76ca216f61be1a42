package stages

import (
	"github.com/go-lasr/lasr/internal/partition"
	"github.com/go-lasr/lasr/internal/stage"
)

// VpcWriter is the "write_vpc" stage: it summarises
// the file collection a pipeline was given, not any point data, so its
// whole job runs once in ProcessFileCollection, before any chunk is
// read. Grounded on internal/partition.Partitioner.WriteVPC, itself
// grounded on go-gsf's json.go VFS-backed manifest writer.
type VpcWriter struct {
	stage.Base
}

// NewVpcWriter is the registry factory for "write_vpc".
func NewVpcWriter() stage.Stage {
	return &VpcWriter{Base: stage.NewBase("write_vpc")}
}

func (v *VpcWriter) BindAttrs(attrs map[string]any) error {
	return stage.BindAttributes(v, attrs)
}

// IsStreamable/NeedPoints: write_vpc never looks at points, so it never
// forces the pipeline into loaded mode and never asks for any.
func (v *VpcWriter) IsStreamable() bool { return true }
func (v *VpcWriter) NeedPoints() bool   { return false }

func (v *VpcWriter) ProcessFileCollection(fc *partition.Partitioner) error {
	if v.OutputTmpl == "" {
		return nil
	}
	return fc.WriteVPC(v.OutputTmpl, nil)
}

func (v *VpcWriter) Clone() stage.Stage {
	return &VpcWriter{Base: v.CloneBase()}
}

func (v *VpcWriter) Merge(stage.Stage) error { return nil }
