// Package handlers implements the session protocol on top of netcode: the authority
// answers hellos, spawns a vehicle per driver and announces it to every peer; clients
// follow the server clock and mirror what the server spawns.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/vehiclesim/internal/cache"
	"github.com/OCAP2/vehiclesim/internal/dispatcher"
	"github.com/OCAP2/vehiclesim/internal/geo"
	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/vehicle"
	"github.com/OCAP2/vehiclesim/internal/worker"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

var ErrWrongRole = errors.New("message not accepted in this role")

// DefaultInputLead is how many ticks a client runs ahead of the server clock it was
// welcomed with, so its moves arrive before the server simulates them.
const DefaultInputLead = 4

// Dependencies holds everything a Service needs.
type Dependencies struct {
	Logger   *slog.Logger
	Time     *netcode.TimeManager
	Registry *cache.Registry
	Arena    *vehicle.Arena
	// Recorder receives session records; nil discards them.
	Recorder *worker.Recorder
	// Frame geo-references telemetry; nil leaves lon/lat zero.
	Frame  *geo.Frame
	Config netcode.Config
	// ObjectSmoothing overrides netcode.DefaultObjectSmoothing for scene props.
	ObjectSmoothing float64

	// Definitions resolves a preset name. Defaults to vehicle.Preset.
	Definitions func(preset string) (vehicle.Definition, error)
	// Preset is used when a hello names none.
	Preset string
	// Input drives the vehicle this client owns. Nil drives with idle input.
	Input netcode.InputFunc
	// Forget drops buffered broadcasts of a removed object.
	Forget func(core.ObjectID)
	// TelemetryEvery samples telemetry every n ticks. Zero uses the reconcile step.
	TelemetryEvery uint32
	// InputLead overrides DefaultInputLead.
	InputLead uint32
	Version   string
}

// Service is one peer's side of the session protocol.
type Service struct {
	deps   Dependencies
	role   core.Role
	out    netcode.Outbox
	router *netcode.Router
	logger *slog.Logger

	tick atomic.Uint32

	// server
	mu      sync.Mutex
	peers   map[core.PeerID]string
	spawned int

	// client
	peer      atomic.Uint32
	welcome   chan streaming.WelcomePayload
	welcomeMu sync.Once

	objects     []core.ObjectID
	unsubscribe []func()
}

// NewServer creates the authoritative side. out reaches every connected peer.
func NewServer(deps Dependencies, out netcode.Outbox) *Service {
	return newService(deps, core.RoleServer, out)
}

// NewClient creates a client. out reaches the server.
func NewClient(deps Dependencies, out netcode.Outbox) *Service {
	return newService(deps, core.RoleOwner, out)
}

func newService(deps Dependencies, role core.Role, out netcode.Outbox) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = cache.NewRegistry()
	}
	if deps.Arena == nil {
		deps.Arena = vehicle.NewArena()
	}
	if deps.Definitions == nil {
		deps.Definitions = vehicle.Preset
	}
	if deps.Preset == "" {
		deps.Preset = vehicle.PresetCar
	}
	if deps.Config.ReconcileTickStep == 0 {
		deps.Config = netcode.DefaultConfig()
	}
	if deps.TelemetryEvery == 0 {
		deps.TelemetryEvery = deps.Config.ReconcileTickStep
	}
	if deps.InputLead == 0 {
		deps.InputLead = DefaultInputLead
	}

	s := &Service{
		deps:    deps,
		role:    role,
		out:     out,
		router:  netcode.NewRouter(),
		logger:  deps.Logger.With("component", "handlers", "role", role.String()),
		peers:   make(map[core.PeerID]string),
		welcome: make(chan streaming.WelcomePayload, 1),
	}
	s.router.Control = s.control
	s.tick.Store(deps.Time.LocalTick)
	s.unsubscribe = append(s.unsubscribe, deps.Time.OnPostTick(s.onPostTick))
	return s
}

// Router is the receiver every inbound envelope of this peer goes to.
func (s *Service) Router() *netcode.Router { return s.router }

// Deliver implements netcode.Receiver.
func (s *Service) Deliver(from core.PeerID, env streaming.Envelope) error {
	return s.router.Deliver(from, env)
}

// Register routes the protocol messages of the dispatcher into the service. Control
// messages are handled in order on the receiving goroutine; per object traffic is
// queued, with reconcile never dropped.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	deliver := func(e dispatcher.Event) error {
		return s.router.Deliver(e.From, e.Envelope)
	}
	for _, typ := range []string{
		streaming.TypeHello, streaming.TypeWelcome, streaming.TypeSpawn,
		streaming.TypeDespawn, streaming.TypeBye,
	} {
		d.Register(typ, deliver, dispatcher.Logged())
	}
	d.Register(streaming.TypeMove, deliver, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(streaming.TypeReconcile, deliver, dispatcher.Buffered(100), dispatcher.Blocking())
	d.Register(streaming.TypeVehicleState, deliver, dispatcher.Buffered(1000))
	d.Register(streaming.TypeRigidbodyState, deliver, dispatcher.Buffered(1000))
	d.Register(streaming.TypeAck, func(dispatcher.Event) error { return nil })
}

func (s *Service) control(from core.PeerID, env streaming.Envelope) error {
	switch env.Type {
	case streaming.TypeHello:
		if s.role != core.RoleServer {
			return fmt.Errorf("%s: %w", env.Type, ErrWrongRole)
		}
		return s.onHello(from, env)
	case streaming.TypeBye:
		if s.role == core.RoleServer {
			s.PeerLeft(from)
			return nil
		}
		var bye streaming.ByePayload
		_ = env.Decode(&bye)
		s.logger.Info("Server said goodbye", "reason", bye.Reason)
		return nil
	case streaming.TypeWelcome:
		if s.role == core.RoleServer {
			return fmt.Errorf("%s: %w", env.Type, ErrWrongRole)
		}
		return s.onWelcome(env)
	case streaming.TypeSpawn:
		if s.role == core.RoleServer {
			return fmt.Errorf("%s: %w", env.Type, ErrWrongRole)
		}
		return s.onSpawn(env)
	case streaming.TypeDespawn:
		if s.role == core.RoleServer {
			return fmt.Errorf("%s: %w", env.Type, ErrWrongRole)
		}
		id := env.Object
		s.deps.Time.Post(func() { s.remove(id) })
		return nil
	case streaming.TypeAck:
		return nil
	}
	return fmt.Errorf("%s: %w", env.Type, netcode.ErrUnexpectedMessage)
}

// spawn builds a networked vehicle and registers it everywhere. It runs on the
// simulation goroutine.
func (s *Service) spawn(sp streaming.SpawnPayload, role core.Role, input netcode.InputFunc) (*cache.Entry, error) {
	def, err := s.deps.Definitions(sp.Preset)
	if err != nil {
		return nil, err
	}
	tm := s.deps.Time
	pose := poseOf(sp)
	v, err := vehicle.Build(def, tm.Sim, uint32(sp.Object),
		vehicle.WithSpawn(pose), vehicle.WithLogger(s.deps.Logger))
	if err != nil {
		return nil, fmt.Errorf("build vehicle %d: %w", sp.Object, err)
	}

	opts := []netcode.Option{
		netcode.WithConfig(s.deps.Config),
		netcode.WithLogger(s.deps.Logger),
		netcode.WithHooks(netcode.Hooks{
			OnSnapshot:  s.deps.Recorder.Snapshot,
			OnReconcile: s.deps.Recorder.Reconcile,
		}),
	}
	if input != nil {
		opts = append(opts, netcode.WithInput(input))
	}
	pv := netcode.NewPredictedVehicle(tm, v, sp.Object, sp.Owner, role, s.out, opts...)

	info := core.VehicleInfo{
		Object:   sp.Object,
		Owner:    sp.Owner,
		Preset:   sp.Preset,
		Hover:    def.Hover,
		Wheels:   len(def.Wheels) + len(def.HoverWheels),
		JoinedAt: time.Now(),
		JoinTick: tm.LocalTick,
	}
	s.deps.Arena.Add(v)
	s.deps.Registry.AddVehicle(info, pv)
	s.router.Add(sp.Object, pv)

	if err := s.deps.Recorder.AddVehicle(info); err != nil {
		s.logger.Warn("Failed to record vehicle", "object", sp.Object, "error", err)
	}
	s.logger.Info("Vehicle spawned", "object", sp.Object, "owner", sp.Owner,
		"preset", sp.Preset, "as", role.String())

	entry, _ := s.deps.Registry.GetVehicle(sp.Object)
	return entry, nil
}

// remove destroys a vehicle. It runs on the simulation goroutine.
func (s *Service) remove(id core.ObjectID) bool {
	entry, ok := s.deps.Registry.RemoveVehicle(id)
	if !ok {
		return false
	}
	s.router.Remove(id)
	entry.Predicted.Destroy()
	s.deps.Arena.Remove(uint32(id))
	if s.deps.Forget != nil {
		s.deps.Forget(id)
	}
	s.logger.Info("Vehicle removed", "object", id)
	return true
}

func (s *Service) onPostTick(tick uint32) {
	s.tick.Store(tick + 1)
	if tick%s.deps.TelemetryEvery != 0 {
		return
	}
	s.sampleTelemetry(tick)
}

// Close unsubscribes the service and destroys every vehicle it spawned. It must run on
// the simulation goroutine or after the clock stopped.
func (s *Service) Close() {
	for _, un := range s.unsubscribe {
		un()
	}
	s.unsubscribe = nil
	for _, e := range s.deps.Registry.Vehicles() {
		s.remove(e.Info.Object)
	}
	for _, id := range s.objects {
		if o, ok := s.deps.Registry.RemoveObject(id); ok {
			s.router.Remove(id)
			o.Destroy()
		}
	}
	s.objects = nil
}

// Tick is the next tick the clock will simulate. Safe from any goroutine.
func (s *Service) Tick() uint32 { return s.tick.Load() }

// Registry holds the networked vehicles and objects of this peer.
func (s *Service) Registry() *cache.Registry { return s.deps.Registry }

// Vehicles is the number of live networked vehicles.
func (s *Service) Vehicles() int { return s.deps.Registry.VehicleCount() }

// Peers is the number of peers that said hello, or 1 on a welcomed client.
func (s *Service) Peers() int {
	if s.role != core.RoleServer {
		if s.peer.Load() != 0 {
			return 1
		}
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Service) send(to core.PeerID, typ string, object core.ObjectID, tick uint32, payload any) {
	env, err := streaming.NewEnvelope(typ, object, tick, payload)
	if err != nil {
		s.logger.Error("Failed to encode envelope", "type", typ, "error", err)
		return
	}
	s.out.SendReliable(to, env)
}
