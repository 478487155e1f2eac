package handlers

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/internal/ground"
	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// SceneObjectBase is the id of the first scene prop. Vehicle ids count up from 1.
const SceneObjectBase core.ObjectID = 1 << 24

const (
	crateMass = 20.0
	crateSize = 1.0
)

// Scene is the static world plus the loose props every peer builds identically.
type Scene struct {
	Ground  *physics.Collider
	Terrain *ground.Terrain
	Crates  []*physics.Body
}

// SurfaceTable builds the surface table of a scene, for sim.WithSurfaces.
func SurfaceTable(cfg config.SceneConfig) *ground.Table {
	surfaces := make([]ground.Surface, 0, len(cfg.Surfaces))
	for _, s := range cfg.Surfaces {
		surfaces = append(surfaces, ground.Surface{
			Name:                s.Name,
			Friction:            s.Friction,
			UseColliderFriction: s.UseColliderFriction,
		})
	}
	return ground.NewTable(surfaces...)
}

// BuildScene adds the ground plane, its surface regions and the crates to ctx.
func BuildScene(ctx *sim.Context, cfg config.SceneConfig) (*Scene, error) {
	regions := make([]ground.Region, 0, len(cfg.Regions))
	for i, r := range cfg.Regions {
		region, err := ground.RegionFromWKT(r.SurfaceType, r.WKT)
		if err != nil {
			return nil, fmt.Errorf("scene region %d: %w", i, err)
		}
		regions = append(regions, region)
	}

	scene := &Scene{}
	if len(regions) > 0 {
		scene.Terrain = ground.NewTerrain(ctx.Surfaces, nil, cfg.DefaultSurface, regions...)
	}
	scene.Ground = ctx.World.AddCollider(&physics.Collider{
		Shape:   physics.ShapePlane,
		Local:   vmath.Identity(),
		Layer:   sim.LayerGround,
		Terrain: scene.Terrain,
	})

	half := crateSize / 2
	for i := range cfg.Crates {
		pose := vmath.Pose{
			Position: mgl64.Vec3{-2 * spawnSpacing, half, float64(i) * 2 * crateSize},
			Rotation: mgl64.QuatIdent(),
		}
		body := ctx.World.AddBody(physics.NewBody(pose, crateMass, mgl64.Vec3{crateSize, crateSize, crateSize}))
		ctx.World.AddCollider(&physics.Collider{
			Shape:       physics.ShapeBox,
			Local:       vmath.Identity(),
			HalfExtents: mgl64.Vec3{half, half, half},
			Layer:       sim.LayerDebris,
			Body:        body,
		})
		scene.Crates = append(scene.Crates, body)
	}
	return scene, nil
}

// AddScene networks the props of scene: the server broadcasts their state, clients
// follow it. Call it before the clock starts.
func (s *Service) AddScene(scene *Scene) {
	server := s.role == core.RoleServer
	for i, body := range scene.Crates {
		id := SceneObjectBase + core.ObjectID(i)
		obj := netcode.NewCachedObject(s.deps.Time, body, id, server,
			s.deps.Config.ReconcileTickStep, s.out, s.deps.Logger)
		if s.deps.ObjectSmoothing > 0 {
			obj.Smoothing = s.deps.ObjectSmoothing
		}
		s.deps.Registry.AddObject(obj)
		s.router.Add(id, obj)
		s.objects = append(s.objects, id)
	}
}
