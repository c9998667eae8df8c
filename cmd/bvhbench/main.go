// bvhbench brings up a headless device, synthesises a random triangle and
// hair scene, and runs the full BVH rebuild loop with validation. It is the
// repository's executable smoke path and a rough timing probe.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/gpubvh"
	"github.com/gekko3d/gpubvh/bvh"
	"github.com/gekko3d/gpubvh/core"
	"github.com/gekko3d/gpubvh/gpu"
)

func main() {
	frames := flag.Int("frames", 8, "number of rebuild frames to run")
	triangles := flag.Int("triangles", 4096, "random triangles in the mesh")
	strands := flag.Int("strands", 64, "hair strands")
	segments := flag.Int("segments", 8, "segments per strand")
	seed := flag.Int64("seed", 1, "scene random seed")
	validate := flag.Bool("validate", true, "download and check the tree every frame")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	log := gpubvh.NewDefaultLogger("bvhbench", *debug)

	ctx, err := gpu.NewHeadlessContext()
	if err != nil {
		log.Errorf("device: %v", err)
		os.Exit(1)
	}
	defer ctx.Release()

	scene := buildScene(rand.New(rand.NewSource(*seed)), *triangles, *strands, *segments)
	scene.RefreshLooseBounds()
	if err := scene.UploadGeometry(ctx.Device, log); err != nil {
		log.Errorf("scene upload: %v", err)
		os.Exit(1)
	}
	defer scene.Release()

	prof := gpubvh.NewProfiler()
	signals := gpubvh.NewSignalBus()
	builder := bvh.NewBuilder(ctx.Device, bvh.Options{
		Logger:   log,
		Profiler: prof,
		Signals:  signals,
		Validate: *validate,
	})
	if err := builder.Initialize(); err != nil {
		log.Errorf("initialize: %v", err)
		os.Exit(1)
	}
	defer builder.Release()

	for f := 0; f < *frames; f++ {
		if err := builder.Update(scene); err != nil {
			log.Errorf("frame %d update: %v", f, err)
			os.Exit(1)
		}

		enc, err := ctx.Device.CreateCommandEncoder(nil)
		if err != nil {
			log.Errorf("frame %d encoder: %v", f, err)
			os.Exit(1)
		}
		if err := builder.Build(scene, enc); err != nil {
			log.Errorf("frame %d build: %v", f, err)
			os.Exit(1)
		}
		cmd, err := enc.Finish(nil)
		if err != nil {
			log.Errorf("frame %d finish: %v", f, err)
			os.Exit(1)
		}
		ctx.Queue.Submit(cmd)
		ctx.Device.Poll(true, nil)

		if err := builder.Validate(); err != nil {
			log.Errorf("frame %d validation: %v", f, err)
			os.Exit(1)
		}
	}

	fmt.Println(prof.GetStatsString())
}

func buildScene(rng *rand.Rand, triangles, strands, segments int) *core.Scene {
	scene := core.NewScene()

	randPoint := func(scale float32) mgl32.Vec3 {
		return mgl32.Vec3{
			(rng.Float32()*2 - 1) * scale,
			(rng.Float32()*2 - 1) * scale,
			(rng.Float32()*2 - 1) * scale,
		}
	}

	mesh := &core.Mesh{Name: "random"}
	for i := 0; i < triangles; i++ {
		base := randPoint(10)
		mesh.Positions = append(mesh.Positions,
			base,
			base.Add(randPoint(0.5)),
			base.Add(randPoint(0.5)),
		)
		idx := uint32(i * 3)
		mesh.Indices = append(mesh.Indices, idx, idx+1, idx+2)
	}
	mesh.Subsets = []core.MeshSubset{{IndexOffset: 0, IndexCount: uint32(len(mesh.Indices))}}
	scene.AddObject(core.NewObject(mesh))

	if strands > 0 && segments > 0 {
		hair := &core.Hair{
			StrandCount:  uint32(strands),
			SegmentCount: uint32(segments),
		}
		for s := 0; s < strands; s++ {
			root := randPoint(10)
			for g := 0; g <= segments; g++ {
				hair.Points = append(hair.Points, core.HairPoint{
					Position: root.Add(mgl32.Vec3{0, float32(g) * 0.2, 0}).Add(randPoint(0.05)),
					Radius:   0.02,
				})
			}
		}
		scene.AddHair(hair)
	}

	return scene
}
