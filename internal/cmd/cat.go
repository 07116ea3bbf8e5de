package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"go.k6.io/bytestreams/cmd/state"
	"go.k6.io/bytestreams/errext"
	"go.k6.io/bytestreams/errext/exitcodes"
	"go.k6.io/bytestreams/eventloop"
	"go.k6.io/bytestreams/promises"
	"go.k6.io/bytestreams/sources"
	"go.k6.io/bytestreams/streams"
)

// cmdCat handles the `cat` sub-command
type cmdCat struct {
	gs *state.GlobalState

	byob     bool
	readSize int
	summary  bool
}

func getCmdCat(gs *state.GlobalState) *cobra.Command {
	c := &cmdCat{gs: gs}

	exampleText := `  # Stream a file to stdout
  $ ` + gs.BinaryName + ` cat data.bin

  # Decompress a gzipped file, reading into 4 KiB buffers
  $ ` + gs.BinaryName + ` cat --encoding gzip --byob --read-size 4096 data.bin.gz

  # Throttle stdin to 1 MB/s and print a summary
  $ cat data.bin | ` + gs.BinaryName + ` cat --rate-limit 1000000 --summary -`

	catCmd := &cobra.Command{
		Use:   "cat [file]",
		Short: "Stream a file through a readable byte stream to stdout",
		Long: `Stream a file through a readable byte stream to stdout.

The file is read by an underlying byte source, on its own goroutine, and consumed through
either a default reader or a BYOB reader. When no file or "-" is given, stdin is read.`,
		Example: exampleText,
		Args:    cobra.MaximumNArgs(1),
		RunE:    c.run,
	}

	catCmd.Flags().SortFlags = false
	catCmd.Flags().AddFlagSet(c.flagSet())

	return catCmd
}

func (c *cmdCat) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.Float64("high-water-mark", streams.DefaultHighWaterMark,
		"number of bytes the stream buffers ahead of the reader")
	flags.Int64("chunk-size", sources.DefaultChunkSize, "maximum number of bytes read from the input at once")
	flags.String("encoding", string(sources.EncodingIdentity),
		"content encoding of the input: 'identity', 'gzip', 'deflate', 'zstd' or 'br'")
	flags.Int64("rate-limit", 0, "maximum number of bytes read per second, 0 for unlimited")
	flags.BoolVar(&c.byob, "byob", false, "read into buffers supplied by the reader")
	flags.IntVar(&c.readSize, "read-size", 16*1024, "size of the buffers of BYOB reads")
	flags.BoolVar(&c.summary, "summary", false, "print a transfer summary to stderr")
	return flags
}

func (c *cmdCat) run(cmd *cobra.Command, args []string) error {
	opts, sourceConf, err := getConsolidatedConfig(c.gs, cmd.Flags())
	if err != nil {
		return err
	}
	if c.byob && c.readSize <= 0 {
		return errext.WithExitCodeIfNone(
			fmt.Errorf("read size must be a positive integer, got %d", c.readSize), exitcodes.InvalidConfig)
	}

	input, name, err := c.openInput(args)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.CannotOpenSource)
	}

	logger := c.gs.Logger.WithField("input", name)
	loop := eventloop.New(logger)

	source, err := sources.NewReaderSource(
		// the transfer is aborted through the stream, not by failing the source
		context.WithoutCancel(c.gs.Ctx), loop, logger, input, sourceConf)
	if err != nil {
		if closer, ok := input.(io.Closer); ok {
			_ = closer.Close()
		}
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	t := &transfer{
		gs:       c.gs,
		logger:   logger,
		loop:     loop,
		out:      c.gs.Stdout,
		byob:     c.byob,
		readSize: c.readSize,
		finished: make(chan struct{}),
	}

	aborted := make(chan struct{})
	stopSignals := handleAbortSignals(c.gs, func(sig os.Signal) {
		logger.WithField("sig", sig).Debug("Stopping the transfer in response to signal...")
		close(aborted)
	})
	defer stopSignals()

	start := time.Now()
	err = loop.Start(func() error {
		stream, err := source.NewStream(opts)
		if err != nil {
			return err
		}
		return t.start(stream, aborted)
	})
	if err != nil {
		t.finish(err)
		loop.WaitOnRegistered()
		return errext.WithExitCodeIfNone(err, exitcodes.StreamErrored)
	}

	if c.summary {
		c.printSummary(name, t.written, source.BytesRead(), time.Since(start))
	}

	switch {
	case t.err != nil:
		return errext.WithExitCodeIfNone(
			fmt.Errorf("streaming %s failed: %w", name, t.err), exitcodes.StreamErrored)
	case t.aborted:
		return errext.WithHint(&errext.InterruptError{Reason: errext.AbortSignal}, "the output is truncated")
	default:
		return nil
	}
}

// openInput opens the file named by args, or stdin.
func (c *cmdCat) openInput(args []string) (io.Reader, string, error) {
	if len(args) == 0 || args[0] == "-" {
		return c.gs.Stdin, "stdin", nil
	}

	path := args[0]
	if !filepath.IsAbs(path) {
		cwd, err := c.gs.Getwd()
		if err != nil {
			return nil, path, fmt.Errorf("'%s' is a relative path but could not determine CWD: %w", path, err)
		}
		path = filepath.Join(cwd, path)
	}

	f, err := c.gs.FS.Open(path)
	if err != nil {
		return nil, args[0], fmt.Errorf("couldn't open the input: %w", err)
	}
	return f, args[0], nil
}

func (c *cmdCat) printSummary(name string, written, read int64, elapsed time.Duration) {
	noColor := c.gs.Flags.NoColor || !c.gs.Stderr.IsTTY
	valueColor := getColor(noColor, color.FgCyan)

	rate := float64(written)
	if elapsed > 0 {
		rate /= elapsed.Seconds()
	}

	printToStderr(c.gs, fmt.Sprintf(
		"\n     input: %s\n   written: %s\n      read: %s\n      took: %s (%s)\n",
		valueColor.Sprint(name),
		valueColor.Sprintf("%d bytes", written),
		valueColor.Sprintf("%d bytes", read),
		valueColor.Sprint(elapsed.Round(time.Millisecond)),
		valueColor.Sprintf("%.0f B/s", rate),
	))
}

// transfer copies a stream to an output, on the event loop.
type transfer struct {
	gs     *state.GlobalState
	logger logrus.FieldLogger
	loop   *eventloop.EventLoop
	out    io.Writer

	byob     bool
	readSize int

	// finished is closed on the loop once the transfer is over.
	finished chan struct{}
	done     bool
	written  int64
	aborted  bool
	err      error

	cancel func(reason any) *promises.Promise[any]
	read   func() *promises.Promise[streams.ReadResult]
}

// start acquires a reader on stream and starts pumping. It runs on the loop.
func (t *transfer) start(stream *streams.ReadableStream, aborted <-chan struct{}) error {
	if t.byob {
		reader, err := stream.GetBYOBReader()
		if err != nil {
			return err
		}
		t.cancel = reader.Cancel
		t.read = func() *promises.Promise[streams.ReadResult] {
			return reader.ReadInto(make([]byte, t.readSize), streams.ReadIntoOptions{Min: 1})
		}
	} else {
		reader, err := stream.GetReader()
		if err != nil {
			return err
		}
		t.cancel = reader.Cancel
		t.read = reader.Read
	}

	// the loop must not wait on the abort handling after the transfer is over
	callback := t.loop.RegisterCallback()
	go func() {
		select {
		case <-aborted:
		case <-t.gs.Ctx.Done():
		case <-t.finished:
			callback(func() error { return nil })
			return
		}
		callback(func() error {
			t.abort()
			return nil
		})
	}()

	t.next()
	return nil
}

func (t *transfer) next() {
	t.read().Then(func(result streams.ReadResult) {
		if t.done {
			return
		}
		if len(result.Value) > 0 {
			n, err := t.out.Write(result.Value)
			t.written += int64(n)
			if err != nil {
				t.finish(fmt.Errorf("writing the output failed: %w", err))
				t.cancel(err)
				return
			}
		}
		if result.Done {
			t.finish(nil)
			return
		}
		t.next()
	}, func(err error) {
		t.finish(err)
	})
}

func (t *transfer) abort() {
	if t.done {
		return
	}
	t.aborted = true
	t.logger.WithField("written", t.written).Debug("transfer aborted")
	t.finish(nil)
	t.cancel(errext.AbortSignal)
}

func (t *transfer) finish(err error) {
	if t.done {
		return
	}
	t.done = true
	t.err = err
	close(t.finished)
}
