// Command launcher assembles the engine core and drives a minimal pair of
// demo states, as a reference for wiring the infrastructure together.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/playforge-studio/gamecore/gamecore/config"
	"github.com/playforge-studio/gamecore/gamecore/gamectx"
	"github.com/playforge-studio/gamecore/gamecore/logging"
	"github.com/playforge-studio/gamecore/gamecore/observability"
	"github.com/playforge-studio/gamecore/gamecore/statemachine"
	"github.com/playforge-studio/gamecore/msgbus"
)

// frameCount is published by the title state and consumed by play.
type frameCount struct {
	frames int
}

// advanceScene is sent over the bus to request the next scene.
type advanceScene struct{}

type titleState struct {
	statemachine.BaseState
	log    logging.Logger
	frames int
}

func (s *titleState) OnEnter() {
	s.log.Info("title_entered")
}

func (s *titleState) OnUpdate(delta time.Duration) {
	s.frames++
	gamectx.SetValue(s.Context(), "frames", frameCount{frames: s.frames})
}

func (s *titleState) OnExit() {
	s.log.Info("title_exited", "frames", s.frames)
}

type playState struct {
	statemachine.BaseState
	log logging.Logger
}

func (s *playState) OnEnter() {
	frames := gamectx.GetValue[frameCount](s.Context(), "frames")
	s.log.Info("play_entered", "title_frames", frames.frames)
}

func newRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run [state]",
		Short: "Run the engine with an optional initial state name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.LoadFile(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			initialState := "Title"
			if len(args) > 0 {
				initialState = args[0]
			}
			return run(cfg, initialState)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

func run(cfg *config.Config, initialState string) error {
	logging.Init(logging.Config{
		Level:      logging.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	log := logging.ForComponent("launcher")
	runID := uuid.NewString()
	log.Info("starting", "run_id", runID, "dispatcher", cfg.Dispatcher)

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer(cfg.ServiceName, cfg.TracingEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("tracer_shutdown_failed", "error", err.Error())
			}
		}()
	}

	// Message system with the configured dispatch policy.
	var polling *msgbus.PollingDispatcher
	var threaded *msgbus.ThreadedDispatcher
	var dispatcher msgbus.Dispatcher
	switch cfg.Dispatcher {
	case config.DispatcherPolling:
		polling = msgbus.NewPollingDispatcher()
		dispatcher = polling
	case config.DispatcherThreaded:
		threaded = msgbus.NewThreadedDispatcher()
		dispatcher = threaded
	}
	system, err := msgbus.NewSystem(dispatcher)
	if err != nil {
		return err
	}
	defer system.Close()
	if threaded != nil {
		defer threaded.Cancel()
	}
	if polling != nil {
		defer polling.Close()
	}

	sceneChannel := system.AddChannel("scene")

	// Shared context and state machine.
	gameContext := gamectx.NewContext()
	defer gameContext.Close()
	gamectx.SetNew(gameContext, "run_id", runID)

	machine := statemachine.New(gamectx.NewValidated(gameContext), logging.ForComponent("statemachine"))
	if machine == nil {
		return fmt.Errorf("failed to create state machine")
	}
	machine.SetTraceLevel(cfg.StateTraceLevel())
	defer machine.Close()

	statemachine.SetStateName[titleState]("Title")
	statemachine.SetStateName[playState]("Play")
	statemachine.Register[titleState](machine, statemachine.Options{
		Constraints: []gamectx.Constraint{
			gamectx.InRequired[string]("run_id"),
			gamectx.OutRequired[frameCount]("frames"),
		},
		Factory: func() statemachine.State {
			return &titleState{log: logging.ForComponent("title")}
		},
	})
	statemachine.Register[playState](machine, statemachine.Options{
		Constraints: []gamectx.Constraint{
			gamectx.InRequired[string]("run_id"),
			gamectx.InRequired[frameCount]("frames"),
		},
		Factory: func() statemachine.State {
			return &playState{log: logging.ForComponent("play")}
		},
	})

	// Scene advancement travels over the bus.
	control, err := system.CreateEndpoint("scene-control")
	if err != nil {
		return err
	}
	defer control.Close()
	msgbus.SetHandler(control, func(from msgbus.EndpointID, message *advanceScene) {
		machine.ChangeTopState(machine.GetRegisteredID("Play"))
	})
	if !control.Subscribe(sceneChannel) {
		return fmt.Errorf("failed to subscribe to scene channel")
	}

	id := machine.GetRegisteredID(initialState)
	if id == statemachine.NoStateID {
		return fmt.Errorf("unknown initial state %q", initialState)
	}
	if !machine.ChangeTopState(id) {
		return fmt.Errorf("initial state %q was rejected", initialState)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsEnabled {
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
		group.Go(func() error {
			log.Info("metrics_listening", "addr", cfg.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			return server.Shutdown(context.Background())
		})
	}

	group.Go(func() error {
		ticker := time.NewTicker(cfg.UpdateInterval())
		defer ticker.Stop()
		last := time.Now()
		ticks := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				machine.Update(now.Sub(last))
				last = now
				if polling != nil {
					polling.Update()
				}
				ticks++
				// Hand off to the play scene once the title has run a bit.
				if ticks == 60 {
					msgbus.SystemSend(system, sceneChannel, advanceScene{})
				}
			}
		}
	})

	err = group.Wait()
	log.Info("stopped", "run_id", runID)
	return err
}

func main() {
	root := &cobra.Command{
		Use:   "launcher",
		Short: "gamecore demo launcher",
	}
	root.AddCommand(newRunCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
