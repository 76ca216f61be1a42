package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/go-lasr/lasr/internal/errctx"
	"github.com/go-lasr/lasr/internal/partition"
	"github.com/go-lasr/lasr/internal/pipeline"
	"github.com/go-lasr/lasr/internal/progress"
	"github.com/go-lasr/lasr/internal/stages"
)

// runPipeline loads a pipeline JSON document from docURI, builds a
// partitioner over processing.files, and runs the pipeline to
// completion.
func runPipeline(docURI string) error {
	data, err := os.ReadFile(docURI)
	if err != nil {
		return fmt.Errorf("reading pipeline document %s: %w", docURI, err)
	}

	doc, err := pipeline.ParseDocument(data)
	if err != nil {
		return err
	}
	if len(doc.Options.Files) == 0 {
		return fmt.Errorf("pipeline document %s: processing.files is empty", docURI)
	}

	ctx := errctx.New()
	reg := stages.NewRegistry()
	eng, err := pipeline.Build(doc, reg, ctx)
	if err != nil {
		return err
	}

	log.Println("Cataloguing input files:", doc.Options.Files)
	part := partition.New(doc.Options.Buffer, doc.Options.Chunk)
	if err := part.Read(doc.Options.Files, nil); err != nil {
		return err
	}
	if needed := eng.NeedBuffer(); needed > part.Buffer {
		part.Buffer = needed
	}
	part.BuildIndex()

	if crs := part.CatalogCRS(); crs.IsSet() {
		eng.SetCRS(crs)
	}

	if !part.CheckSpatialIndex() {
		log.Println("One or more files lack a spatial index; prepending a write_lax stage")
		eng.InsertStage(1, stages.NewLaxWriter())
	}

	prog := progress.New(part.NumChunks())
	log.Printf("Running pipeline: %d chunk(s)\n", part.NumChunks())
	if err := eng.Run(part, prog); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	log.Println("Pipeline finished")
	return nil
}

func main() {
	app := &cli.App{
		Name:  "lasr",
		Usage: "run a point-cloud processing pipeline described by a JSON document",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run a pipeline JSON document",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "pipeline",
						Usage:    "URI or pathname to the pipeline JSON document.",
						Required: true,
					},
				},
				Action: func(cCtx *cli.Context) error {
					return runPipeline(cCtx.String("pipeline"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
