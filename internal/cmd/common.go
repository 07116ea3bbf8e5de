package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"go.k6.io/bytestreams/cmd/state"
	"go.k6.io/bytestreams/errext/exitcodes"
)

// Panic if the given error is not nil.
func must(err error) {
	if err != nil {
		panic(err)
	}
}

// TODO: refactor the CLI config so these functions aren't needed - they
// can mask errors by failing only at runtime, not at compile time
func getNullInt64(flags *pflag.FlagSet, key string) null.Int {
	v, err := flags.GetInt64(key)
	if err != nil {
		panic(err)
	}
	return null.NewInt(v, flags.Changed(key))
}

func getNullFloat64(flags *pflag.FlagSet, key string) null.Float {
	v, err := flags.GetFloat64(key)
	if err != nil {
		panic(err)
	}
	return null.NewFloat(v, flags.Changed(key))
}

func getNullString(flags *pflag.FlagSet, key string) null.String {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	return null.NewString(v, flags.Changed(key))
}

func printToStderr(gs *state.GlobalState, s string) {
	if _, err := fmt.Fprint(gs.Stderr, s); err != nil {
		gs.Logger.Errorf("could not print '%s' to stderr: %s", s, err.Error())
	}
}

func getColor(noColor bool, attributes ...color.Attribute) *color.Color {
	if noColor {
		c := color.New()
		c.DisableColor()
		return c
	}

	c := color.New(attributes...)
	c.EnableColor()
	return c
}

// Trap Interrupts, SIGINTs and SIGTERMs and call the given handler on the first one.
func handleAbortSignals(gs *state.GlobalState, onAbort func(os.Signal)) (stop func()) {
	gs.Logger.Debug("Trapping interrupt signals so the transfer can be stopped gracefully...")
	sigC := make(chan os.Signal, 2)
	done := make(chan struct{})
	gs.SignalNotify(sigC, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigC:
			onAbort(sig)
		case <-done:
			return
		}

		select {
		case <-sigC:
			// a second signal means the graceful stop is not wanted
			gs.OSExit(int(exitcodes.ExternalAbort))
		case <-done:
			return
		}
	}()

	return func() {
		close(done)
		gs.SignalStop(sigC)
	}
}
