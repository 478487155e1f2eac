package handlers

import (
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/cache"
	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

const (
	spawnSpacing = 6.0
	spawnHeight  = 1.0
)

func poseOf(sp streaming.SpawnPayload) vmath.Pose {
	rot := sp.Rotation
	if rot.Len() == 0 {
		rot = mgl64.QuatIdent()
	}
	return vmath.Pose{Position: sp.Position, Rotation: rot.Normalize()}
}

func spawnPayload(e *cache.Entry) streaming.SpawnPayload {
	body := e.Predicted.Vehicle.Body
	return streaming.SpawnPayload{
		Object:   e.Info.Object,
		Owner:    e.Info.Owner,
		Preset:   e.Info.Preset,
		Position: body.Position,
		Rotation: body.Rotation,
	}
}

// nextSpawn lines vehicles up along x. It runs on the simulation goroutine.
func (s *Service) nextSpawn() vmath.Pose {
	slot := s.spawned
	s.spawned++
	return vmath.Pose{
		Position: mgl64.Vec3{float64(slot) * spawnSpacing, spawnHeight, 0},
		Rotation: mgl64.QuatIdent(),
	}
}

func (s *Service) onHello(from core.PeerID, env streaming.Envelope) error {
	var hello streaming.HelloPayload
	if err := env.Decode(&hello); err != nil {
		return err
	}
	if hello.Version != "" && s.deps.Version != "" && hello.Version != s.deps.Version {
		s.logger.Warn("Peer runs a different version", "peer", from,
			"theirs", hello.Version, "ours", s.deps.Version)
	}

	s.mu.Lock()
	_, known := s.peers[from]
	s.peers[from] = hello.Name
	s.mu.Unlock()

	preset := hello.Preset
	if preset == "" {
		preset = s.deps.Preset
	}
	drives := hello.Role != core.RoleObserver && !known
	s.logger.Info("Peer said hello", "peer", from, "name", hello.Name,
		"role", hello.Role.String(), "preset", preset)

	s.deps.Time.Post(func() {
		tm := s.deps.Time
		s.send(from, streaming.TypeWelcome, 0, 0, streaming.WelcomePayload{
			Peer:              from,
			Tick:              tm.LocalTick,
			TickRate:          1 / tm.TickDelta(),
			ReconcileTickStep: s.deps.Config.ReconcileTickStep,
			SchemaVersion:     state.SchemaVersion,
		})
		for _, e := range s.deps.Registry.Vehicles() {
			s.send(from, streaming.TypeSpawn, e.Info.Object, 0, spawnPayload(e))
		}
		if !drives {
			return
		}

		pose := s.nextSpawn()
		sp := streaming.SpawnPayload{
			Object:   s.deps.Registry.NextID(),
			Owner:    from,
			Preset:   preset,
			Position: pose.Position,
			Rotation: pose.Rotation,
		}
		if _, err := s.spawn(sp, core.RoleServer, nil); err != nil {
			s.logger.Error("Failed to spawn vehicle", "peer", from, "preset", preset, "error", err)
			return
		}
		for _, p := range s.peerIDs() {
			s.send(p, streaming.TypeSpawn, sp.Object, 0, sp)
		}
	})
	return nil
}

// SpawnBot adds a vehicle the server drives itself with input. The vehicle appears on
// the next tick.
func (s *Service) SpawnBot(preset string, input netcode.InputFunc) {
	if preset == "" {
		preset = s.deps.Preset
	}
	s.deps.Time.Post(func() {
		pose := s.nextSpawn()
		sp := streaming.SpawnPayload{
			Object:   s.deps.Registry.NextID(),
			Owner:    core.ServerPeer,
			Preset:   preset,
			Position: pose.Position,
			Rotation: pose.Rotation,
		}
		if _, err := s.spawn(sp, core.RoleServer, input); err != nil {
			s.logger.Error("Failed to spawn bot", "preset", preset, "error", err)
			return
		}
		for _, p := range s.peerIDs() {
			s.send(p, streaming.TypeSpawn, sp.Object, 0, sp)
		}
	})
}

// PeerLeft removes a peer and the vehicles it owned. It is safe to call for peers that
// are already gone.
func (s *Service) PeerLeft(peer core.PeerID) {
	s.mu.Lock()
	_, ok := s.peers[peer]
	delete(s.peers, peer)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.logger.Info("Peer left", "peer", peer)

	s.deps.Time.Post(func() {
		for _, id := range s.deps.Registry.OwnedBy(peer) {
			if !s.remove(id) {
				continue
			}
			for _, p := range s.peerIDs() {
				s.send(p, streaming.TypeDespawn, id, 0, nil)
			}
		}
	})
}

func (s *Service) peerIDs() []core.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]core.PeerID, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
