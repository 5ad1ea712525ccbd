package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dexterhq/dexter/runtime/agent/controller"
	"github.com/dexterhq/dexter/transport/cli"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run the agent interactively in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logContext()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		agent, internal, err := newAgent(cfg)
		if err != nil {
			return err
		}
		recorder, _, closeRecorder, err := newRecorder(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRecorder(ctx)

		renderer := cli.NewRenderer(os.Stdout)
		var ctrl *controller.Controller
		ctrl, err = controller.New(controller.Options{
			Agent:                 agent,
			Recorder:              recorder,
			InternalTools:         internal,
			MaxSteps:              cfg.MaxSteps,
			TextFlushInterval:     cfg.TextFlush(),
			ProgressFlushInterval: cfg.ProgressFlush(),
			OnUpdate:              func() { renderer.Paint(cli.Snap(ctrl)) },
		})
		if err != nil {
			return err
		}

		// Interrupt cancels the active run; the prompt survives.
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT)
		defer signal.Stop(sigc)
		go func() {
			for range sigc {
				ctrl.Cancel()
			}
		}()

		repl, err := cli.NewREPL(cli.REPLOptions{
			Controller: ctrl,
			In:         os.Stdin,
			Out:        os.Stdout,
		})
		if err != nil {
			return err
		}
		return repl.Run(ctx)
	},
}
