package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dexterhq/dexter/runtime/agent/controller"
)

type (
	// REPLOptions configures a REPL.
	REPLOptions struct {
		// Controller drives agent runs. Required.
		Controller *controller.Controller
		// In is the query source. Required.
		In io.Reader
		// Out receives prompts and run output. Required.
		Out io.Writer
	}

	// REPL reads queries line by line and runs each to completion before
	// prompting again. Repaints happen through the controller's OnUpdate
	// hook; the REPL itself only owns the prompt.
	REPL struct {
		ctrl *controller.Controller
		in   *bufio.Scanner
		out  io.Writer
	}
)

// NewREPL builds a REPL.
func NewREPL(opts REPLOptions) (*REPL, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.In == nil || opts.Out == nil {
		return nil, fmt.Errorf("input and output are required")
	}
	return &REPL{
		ctrl: opts.Controller,
		in:   bufio.NewScanner(opts.In),
		out:  opts.Out,
	}, nil
}

// Run loops until the input is exhausted, the context ends, or the
// operator types an exit command.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, dimStyle.Render("session "+r.ctrl.SessionID()+" (type \"exit\" to quit)"))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(r.out, promptStyle.Render("> "))
		if !r.in.Scan() {
			return r.in.Err()
		}
		query := strings.TrimSpace(r.in.Text())
		switch query {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if _, err := r.ctrl.Submit(ctx, query); err != nil {
			switch {
			case errors.Is(err, controller.ErrInterrupted):
				fmt.Fprintln(r.out, dimStyle.Render("(interrupted)"))
			case errors.Is(err, controller.ErrBusy):
				fmt.Fprintln(r.out, errorStyle.Render("a run is already processing"))
			default:
				fmt.Fprintln(r.out, errorStyle.Render("error: "+err.Error()))
			}
		}
	}
}
