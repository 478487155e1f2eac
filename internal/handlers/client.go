package handlers

import (
	"context"
	"fmt"

	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// Hello builds the first message of a client. role is RoleOwner for a driver and
// RoleObserver for a spectator.
func (s *Service) Hello(name string, role core.Role) (streaming.Envelope, error) {
	return streaming.NewEnvelope(streaming.TypeHello, 0, 0, streaming.HelloPayload{
		Name:    name,
		Role:    role,
		Preset:  s.deps.Preset,
		Version: s.deps.Version,
	})
}

// Peer is the id the server gave this client, 0 before the welcome.
func (s *Service) Peer() core.PeerID { return core.PeerID(s.peer.Load()) }

// WaitWelcome blocks until the server answered the hello.
func (s *Service) WaitWelcome(ctx context.Context) (streaming.WelcomePayload, error) {
	select {
	case w := <-s.welcome:
		s.welcome <- w
		return w, nil
	case <-ctx.Done():
		return streaming.WelcomePayload{}, ctx.Err()
	}
}

func (s *Service) onWelcome(env streaming.Envelope) error {
	var w streaming.WelcomePayload
	if err := env.Decode(&w); err != nil {
		return err
	}
	if w.SchemaVersion != state.SchemaVersion {
		return fmt.Errorf("server state schema %d, ours %d: %w", w.SchemaVersion, state.SchemaVersion, state.ErrSchemaMismatch)
	}
	s.peer.Store(uint32(w.Peer))
	s.welcomeMu.Do(func() { s.welcome <- w })
	s.logger.Info("Welcomed by server", "peer", w.Peer, "tick", w.Tick,
		"tickRate", w.TickRate, "reconcileTickStep", w.ReconcileTickStep)

	lead := s.deps.InputLead
	s.deps.Time.Post(func() {
		s.deps.Time.SetTick(w.Tick + lead)
		s.tick.Store(w.Tick + lead)
	})
	return nil
}

func (s *Service) onSpawn(env streaming.Envelope) error {
	var sp streaming.SpawnPayload
	if err := env.Decode(&sp); err != nil {
		return err
	}
	s.deps.Time.Post(func() {
		if _, ok := s.deps.Registry.GetVehicle(sp.Object); ok {
			return
		}
		role := core.RoleObserver
		var input netcode.InputFunc
		if me := s.Peer(); me != 0 && sp.Owner == me {
			role = core.RoleOwner
			input = s.deps.Input
		}
		if _, err := s.spawn(sp, role, input); err != nil {
			s.logger.Error("Failed to mirror vehicle", "object", sp.Object, "error", err)
		}
	})
	return nil
}
