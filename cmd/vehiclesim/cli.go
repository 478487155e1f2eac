package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/internal/dispatcher"
	"github.com/OCAP2/vehiclesim/internal/handlers"
	"github.com/OCAP2/vehiclesim/internal/logging"
	"github.com/OCAP2/vehiclesim/internal/monitor"
	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/parser"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/transport"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

var errHelp = errors.New("help requested")

const usageText = `Usage: vehiclesim <command> [flags]

Commands:
  serve     run the authoritative server and record the session
  drive     join a server and drive a vehicle, idle or from --script
  observe   join a server without a vehicle
  local     run server, driver and observer in one process and print how far they diverge
  record    accept recordings streamed by "serve" with storage type websocket
  version   print the version

Run "vehiclesim <command> --help" for the flags of a command.
`

// command is one subcommand: its flags are registered on fs before parsing and run is
// called with the configured app.
type command struct {
	fs  *pflag.FlagSet
	run func(a *app) error
	// bind maps flags onto config keys, so flags override the file.
	bind map[string]string
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return errHelp
	}
	name, rest := strings.ToLower(args[0]), args[1:]
	switch name {
	case "version", "--version", "-v":
		fmt.Printf("%s %s (built %s, state schema %d)\n", AppName, CurrentVersion, BuildDate, state.SchemaVersion)
		return nil
	case "help", "--help", "-h":
		fmt.Print(usageText)
		return nil
	}

	cmd, err := newCommand(name)
	if err != nil {
		fmt.Fprint(os.Stderr, usageText)
		return err
	}
	configDir := cmd.fs.StringP("config", "c", ".", "directory holding "+config.FileName)
	cmd.fs.String("log-level", "", "log level (debug, info, warn, error)")
	cmd.bind["log-level"] = "logLevel"
	if err := cmd.fs.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}
	for flag, key := range cmd.bind {
		if f := cmd.fs.Lookup(flag); f != nil && f.Changed {
			if err := viper.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	a, err := newApp(name, *configDir)
	if err != nil {
		return err
	}
	defer a.Close()
	return cmd.run(a)
}

func newCommand(name string) (*command, error) {
	cmd := &command{
		fs:   pflag.NewFlagSet(name, pflag.ContinueOnError),
		bind: map[string]string{},
	}
	fs := cmd.fs
	switch name {
	case "serve":
		fs.String("listen", "", "address to accept peers on")
		fs.String("preset", "", "vehicle preset for peers that name none")
		bots := fs.Int("bots", 0, "vehicles the server drives itself")
		script := fs.String("script", "", "driving script for the bots; they circle without one")
		cmd.bind["listen"] = "net.listen"
		cmd.bind["preset"] = "sim.preset"
		cmd.run = func(a *app) error { return a.serve(*bots, *script) }

	case "drive", "observe":
		fs.String("server", "", "websocket URL of the server")
		fs.String("preset", "", "vehicle preset to ask for")
		peerName := fs.String("name", "", "name shown to the server")
		duration := fs.Duration("duration", 0, "leave after this long; 0 runs until interrupted")
		cmd.bind["server"] = "net.serverUrl"
		cmd.bind["preset"] = "sim.preset"
		if name == "drive" {
			script := fs.String("script", "", "driving script; idle input without one")
			cmd.run = func(a *app) error {
				input, err := loadScript(a, *script)
				if err != nil {
					return err
				}
				return a.join(core.RoleOwner, *peerName, input, *duration)
			}
		} else {
			cmd.run = func(a *app) error { return a.join(core.RoleObserver, *peerName, nil, *duration) }
		}

	case "local":
		drive := fs.Uint32("ticks", 500, "ticks the owner drives")
		settle := fs.Uint32("settle", 150, "ticks of braking before the report")
		loss := fs.Float64("loss", 0, "fraction of unreliable messages to drop")
		seed := fs.Uint64("seed", 1, "seed of the loss pattern")
		script := fs.String("script", "", "driving script for the owner")
		record := fs.Bool("record", false, "record the session with the configured storage")
		cmd.run = func(a *app) error {
			input, err := loadScript(a, *script)
			if err != nil {
				return err
			}
			return a.local(localOptions{Drive: *drive, Settle: *settle, Loss: *loss, Seed: *seed, Input: input}, *record)
		}

	case "record":
		fs.String("listen", "", "address to accept recordings on")
		cmd.bind["listen"] = "net.recordListen"
		cmd.run = func(a *app) error { return a.record() }

	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
	return cmd, nil
}

func loadScript(a *app, path string) (netcode.InputFunc, error) {
	if path == "" {
		return nil, nil
	}
	s, err := parser.NewParser(a.Logger).ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load driving script: %w", err)
	}
	a.Logger.Info("Driving script loaded", "path", path, "length", s.Length(), "loop", s.Loop())
	return s.Input(), nil
}

// circle is the bot input when no script is given.
func circle(uint32) core.MoveData { return core.MoveData{Accel: 0.6, Steer: 0.35} }

// newSession describes the session this server runs.
func (a *app) newSession(tickStep uint32) core.Session {
	simCfg := config.GetSimConfig()
	geoCfg := config.GetGeoConfig()
	tag := viper.GetString("defaultTag")
	host, _ := os.Hostname()
	return core.Session{
		Name:      fmt.Sprintf("%s %s", tag, a.started.Format("2006-01-02 15:04:05")),
		Tag:       tag,
		StartedAt: a.started,
		TickRate:  simCfg.TickRate,
		TickStep:  tickStep,
		Host:      host,
		SchemaVer: state.SchemaVersion,
		OriginLon: geoCfg.OriginLon,
		OriginLat: geoCfg.OriginLat,
		Properties: map[string]any{
			"version": CurrentVersion,
			"command": a.command,
			"preset":  simCfg.Preset,
		},
	}
}

// listen serves handler on addr until ctx is done. A failing listener cancels ctx
// through cancel.
func (a *app) listen(ctx context.Context, cancel context.CancelFunc, addr string, handler http.Handler) (wait func() error) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Listening", "addr", addr)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			cancel()
		}
		errCh <- err
	}()
	return func() error {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
		return <-errCh
	}
}

func (a *app) serve(bots int, script string) error {
	sigCtx, stopSignals := a.signalContext()
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	simCfg := config.GetSimConfig()
	netCfg := config.GetNetConfig()

	apiClient := a.checkServerStatus(ctx)
	rec, err := a.startRecorder(ctx, config.GetStorageConfig(), apiClient)
	if err != nil {
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			a.Logger.Error("Failed to close recorder", "error", err)
		}
	}()

	n, err := newNode("server", simCfg, config.GetSceneConfig(), viper.GetBool("stateTrace"), a.Logger)
	if err != nil {
		return err
	}
	deps, err := n.deps(simCfg, a.frame, a.Logger)
	if err != nil {
		return err
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(a.zlog.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		return err
	}
	server := transport.NewServer(transport.ServerConfig{
		Secret:          netCfg.Secret,
		SendBuffer:      netCfg.SendBuffer,
		ReliableTimeout: netCfg.AckTimeout,
	}, d, a.Logger)

	deps.Recorder = rec.Recorder
	deps.Forget = server.Forget
	svc := handlers.NewServer(deps, server)
	svc.AddScene(n.scene)
	svc.Register(d)
	server.OnDisconnect = svc.PeerLeft
	a.session.SetRole("server")
	a.session.SetClock(svc.Tick)

	sess := a.newSession(deps.Config.ReconcileTickStep)
	if err := rec.StartSession(sess); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	a.session.Start(sess)

	mon := monitor.NewService(monitor.Dependencies{
		Logger:     a.Logger,
		Session:    a.session,
		Stats:      svc,
		Metrics:    n.tm.Metrics(),
		Dispatcher: d,
		Worker:     rec.worker,
		Recorder:   rec.Recorder,
		Dir:        viper.GetString("logsDir"),
	})
	if err := mon.Start(); err != nil {
		a.Logger.Warn("Status monitor not started", "error", err)
	}

	var botInput netcode.InputFunc = circle
	for range bots {
		if script != "" {
			if botInput, err = loadScript(a, script); err != nil {
				return err
			}
		}
		svc.SpawnBot("", botInput)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", server)
	wait := a.listen(ctx, cancel, netCfg.Listen, mux)

	if err := n.tm.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Clock failed", "error", err)
	}
	a.Logger.Info("Shutting down", "tick", svc.Tick(), "vehicles", svc.Vehicles())

	listenErr := wait()
	server.Close()
	d.Close()
	svc.Close()
	mon.Stop()

	if err := rec.EndSession(); err != nil {
		a.Logger.Error("Failed to end session", "error", err)
	}
	a.session.End()
	n.saveTrace(a.Logger, a.started)
	return listenErr
}

// join connects to a server as a driver or an observer.
func (a *app) join(role core.Role, name string, input netcode.InputFunc, duration time.Duration) error {
	ctx, stop := a.signalContext()
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("%s@%s", role, host)
	}

	simCfg := config.GetSimConfig()
	netCfg := config.GetNetConfig()
	n, err := newNode(role.String(), simCfg, config.GetSceneConfig(), viper.GetBool("stateTrace"), a.Logger)
	if err != nil {
		return err
	}
	deps, err := n.deps(simCfg, a.frame, a.Logger)
	if err != nil {
		return err
	}
	deps.Input = input

	d, err := dispatcher.New(logging.NewDispatcherLogger(a.zlog.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		return err
	}
	client := transport.NewClient(transport.ClientConfig{
		URL:                  netCfg.ServerURL,
		Secret:               netCfg.Secret,
		SendBuffer:           netCfg.SendBuffer,
		MaxReconnectAttempts: netCfg.MaxReconnectAttempts,
		AckTimeout:           netCfg.AckTimeout,
	}, d, a.Logger)
	svc := handlers.NewClient(deps, client.Outbox())
	svc.AddScene(n.scene)
	svc.Register(d)
	client.OnReconnect = func() { a.Logger.Info("Reconnected, hello replayed", "peer", svc.Peer()) }
	a.session.SetRole(role.String())
	a.session.SetClock(svc.Tick)

	hello, err := svc.Hello(name, role)
	if err != nil {
		return err
	}
	if err := client.SetHandshake(hello); err != nil {
		return err
	}
	if err := client.Dial(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", netCfg.ServerURL, err)
	}
	a.Logger.Info("Connected", "url", netCfg.ServerURL, "as", role.String())

	clockCtx, stopClock := context.WithCancel(ctx)
	defer stopClock()
	clockDone := make(chan error, 1)
	go func() { clockDone <- n.tm.Run(clockCtx) }()

	welcomeCtx, cancelWelcome := context.WithTimeout(ctx, netCfg.AckTimeout)
	w, err := svc.WaitWelcome(welcomeCtx)
	cancelWelcome()
	if err != nil {
		stopClock()
		<-clockDone
		_ = client.Close()
		d.Close()
		svc.Close()
		return fmt.Errorf("no welcome from server: %w", err)
	}
	a.session.Start(core.Session{Name: fmt.Sprintf("peer %d", w.Peer), TickRate: w.TickRate, TickStep: w.ReconcileTickStep})

	if err := <-clockDone; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		a.Logger.Error("Clock failed", "error", err)
	}
	a.Logger.Info("Leaving", "tick", svc.Tick(), "vehicles", svc.Vehicles(), "dropped", client.Dropped(),
		"reconciliations", n.tm.Metrics().Reconciliations())

	if bye, err := streaming.NewEnvelope(streaming.TypeBye, 0, 0, streaming.ByePayload{Reason: "quit"}); err == nil {
		if err := client.SendAndWait(bye, false); err != nil {
			a.Logger.Warn("Server did not acknowledge bye", "error", err)
		}
	}
	_ = client.Close()
	d.Close()
	svc.Close()
	a.session.End()
	n.saveTrace(a.Logger, a.started)
	return nil
}

func (a *app) local(opts localOptions, record bool) error {
	opts.Sim = config.GetSimConfig()
	opts.Scene = config.GetSceneConfig()
	opts.Trace = viper.GetBool("stateTrace")
	opts.Frame = a.frame
	opts.Logger = a.Logger
	a.session.SetRole("local")

	var rec *recorder
	if record {
		var err error
		rec, err = a.startRecorder(context.Background(), config.GetStorageConfig(), nil)
		if err != nil {
			return err
		}
		sess := a.newSession(opts.Sim.ReconcileTickStep)
		if err := rec.StartSession(sess); err != nil {
			return errors.Join(err, rec.Close())
		}
		a.session.Start(sess)
		opts.Recorder = rec.Recorder
	}

	res, err := runLocal(opts)
	if rec != nil {
		if endErr := rec.EndSession(); endErr != nil {
			a.Logger.Error("Failed to end session", "error", endErr)
		}
		a.session.End()
		if closeErr := rec.Close(); closeErr != nil {
			a.Logger.Error("Failed to close recorder", "error", closeErr)
		}
	}
	if err != nil {
		return err
	}
	for _, n := range res.Nodes {
		n.saveTrace(a.Logger, a.started)
	}
	res.Report.Print(os.Stdout)
	return nil
}

// record runs the remote recorder: every peer streams worker envelopes, which go
// straight into the recorder pipeline.
func (a *app) record() error {
	sigCtx, stopSignals := a.signalContext()
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	a.session.SetRole("recorder")
	storageCfg := config.GetStorageConfig()
	if storageCfg.Type == "websocket" {
		return errors.New("record cannot stream to another recorder, pick a local storage type")
	}
	rec, err := a.startRecorder(ctx, storageCfg, a.checkServerStatus(ctx))
	if err != nil {
		return err
	}

	netCfg := config.GetNetConfig()
	server := transport.NewServer(transport.ServerConfig{
		Secret:          storageCfg.WebSocket.Secret,
		SendBuffer:      netCfg.SendBuffer,
		ReliableTimeout: netCfg.AckTimeout,
	}, transport.ReceiverFunc(func(from core.PeerID, env streaming.Envelope) error {
		if env.Type == streaming.TypeStartSession {
			var s core.Session
			if err := env.Decode(&s); err == nil {
				a.session.Start(s)
			}
		}
		if env.Type == streaming.TypeEndSession {
			defer a.session.End()
		}
		return rec.dispatcher.Deliver(from, env)
	}), a.Logger)

	mux := http.NewServeMux()
	mux.Handle("/record", server)
	wait := a.listen(ctx, cancel, netCfg.RecordListen, mux)
	<-ctx.Done()

	listenErr := wait()
	server.Close()
	return errors.Join(listenErr, rec.Close())
}
