package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"text/tabwriter"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/internal/geo"
	"github.com/OCAP2/vehiclesim/internal/handlers"
	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/worker"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

const (
	localOwner    core.PeerID = 1
	localObserver core.PeerID = 2
)

// localOptions configures a session run in one process over a loopback hub.
type localOptions struct {
	Sim   config.SimConfig
	Scene config.SceneConfig
	// Drive is how many ticks the owner drives with Input.
	Drive uint32
	// Settle is how many ticks the owner then brakes, so every copy comes to rest.
	Settle uint32
	Input  netcode.InputFunc
	// Loss is the fraction of unreliable envelopes the hub drops.
	Loss     float64
	Seed     uint64
	Trace    bool
	Recorder *worker.Recorder
	Frame    *geo.Frame
	Logger   *slog.Logger
}

// localVehicle compares one vehicle across the three copies of the world.
type localVehicle struct {
	Object        core.ObjectID
	Server        [3]float64
	OwnerError    float64
	ObserverError float64
	LateMoves     int
}

type localReport struct {
	Ticks           uint32
	Vehicles        []localVehicle
	Reconciliations int64
	Rejected        int64
	Lost            int64
}

// localSession is the result of runLocal. The nodes are server, owner, observer.
type localSession struct {
	Report localReport
	Nodes  []*node
}

func runLocal(opts localOptions) (*localSession, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Input == nil {
		opts.Input = func(uint32) core.MoveData { return core.MoveData{Accel: 1, Steer: 0.2} }
	}

	hub := netcode.NewLoopback()
	var lost atomic.Int64
	if opts.Loss > 0 {
		rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
		hub.Drop = func(_, _ core.PeerID, _ streaming.Envelope) bool {
			if rng.Float64() < opts.Loss {
				lost.Add(1)
				return true
			}
			return false
		}
	}
	hub.OnError = func(to core.PeerID, env streaming.Envelope, err error) {
		opts.Logger.Warn("Loopback delivery failed", "to", to, "type", env.Type, "error", err)
	}

	build := func(role string) (*node, handlers.Dependencies, error) {
		n, err := newNode(role, opts.Sim, opts.Scene, opts.Trace, opts.Logger)
		if err != nil {
			return nil, handlers.Dependencies{}, err
		}
		deps, err := n.deps(opts.Sim, opts.Frame, opts.Logger)
		return n, deps, err
	}

	serverNode, serverDeps, err := build("server")
	if err != nil {
		return nil, err
	}
	serverDeps.Recorder = opts.Recorder
	server := handlers.NewServer(serverDeps, hub.Outbox(core.ServerPeer))
	server.AddScene(serverNode.scene)
	hub.Attach(core.ServerPeer, server)
	defer server.Close()

	var started bool
	var origin uint32
	drive := func(tick uint32) core.MoveData {
		if !started {
			started, origin = true, tick
		}
		if tick-origin < opts.Drive {
			return opts.Input(tick)
		}
		return core.MoveData{Brake: 1, Ebrake: 1}
	}

	nodes := []*node{serverNode}
	clients := make([]*handlers.Service, 0, 2)
	for _, c := range []struct {
		peer  core.PeerID
		role  core.Role
		input netcode.InputFunc
	}{
		{localOwner, core.RoleOwner, drive},
		{localObserver, core.RoleObserver, nil},
	} {
		n, deps, err := build(c.role.String())
		if err != nil {
			return nil, err
		}
		deps.Input = c.input
		svc := handlers.NewClient(deps, hub.Outbox(c.peer))
		svc.AddScene(n.scene)
		hub.Attach(c.peer, svc)
		defer svc.Close()

		hello, err := svc.Hello(fmt.Sprintf("local-%s", c.role), c.role)
		if err != nil {
			return nil, err
		}
		hub.Outbox(c.peer).SendReliable(core.ServerPeer, hello)
		serverNode.tm.Step()
		n.tm.Step()
		nodes = append(nodes, n)
		clients = append(clients, svc)
	}

	total := opts.Drive + opts.Settle
	for range total {
		for _, n := range nodes {
			n.tm.Step()
		}
	}

	owner, observer := clients[0], clients[1]
	report := localReport{Ticks: total, Lost: lost.Load()}
	for _, n := range nodes[1:] {
		report.Reconciliations += n.tm.Metrics().Reconciliations()
		report.Rejected += n.tm.Metrics().Rejected()
	}
	for _, e := range server.Registry().Vehicles() {
		pos := e.Predicted.Vehicle.Body.Position
		v := localVehicle{Object: e.Info.Object, Server: [3]float64(pos), LateMoves: e.Predicted.LateMoves()}
		if o, ok := owner.Registry().GetVehicle(e.Info.Object); ok {
			v.OwnerError = o.Predicted.Vehicle.Body.Position.Sub(pos).Len()
		}
		if o, ok := observer.Registry().GetVehicle(e.Info.Object); ok {
			v.ObserverError = o.Predicted.Vehicle.Body.Position.Sub(pos).Len()
		}
		report.Vehicles = append(report.Vehicles, v)
	}
	return &localSession{Report: report, Nodes: nodes}, nil
}

// Print writes the convergence table.
func (r localReport) Print(w io.Writer) {
	fmt.Fprintf(w, "ticks: %d reconciliations: %d rejected: %d lost: %d\n",
		r.Ticks, r.Reconciliations, r.Rejected, r.Lost)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "object\tserver position\towner error (m)\tobserver error (m)\tlate moves")
	for _, v := range r.Vehicles {
		fmt.Fprintf(tw, "%d\t(%.2f, %.2f, %.2f)\t%.4f\t%.4f\t%d\n", v.Object,
			v.Server[0], v.Server[1], v.Server[2], v.OwnerError, v.ObserverError, v.LateMoves)
	}
	_ = tw.Flush()
}
