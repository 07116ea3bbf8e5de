package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"go.k6.io/bytestreams/eventloop"
)

// loopTimeout bounds how long a test body may keep its event loop running.
const loopTimeout = 10 * time.Second

// RunOnLoop runs body as the first task of a new event loop and waits for the loop to drain.
// It returns the error the loop stopped with.
func RunOnLoop(t testing.TB, logger logrus.FieldLogger, body func(loop *eventloop.EventLoop) error) error {
	t.Helper()

	loop := eventloop.New(logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- loop.Start(func() error { return body(loop) })
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(loopTimeout):
		t.Fatal("timed out waiting for the event loop to drain")
		return nil
	}
}

// MustRunOnLoop is RunOnLoop failing the test if the loop stops with an error.
func MustRunOnLoop(t testing.TB, logger logrus.FieldLogger, body func(loop *eventloop.EventLoop) error) {
	t.Helper()

	require.NoError(t, RunOnLoop(t, logger, body))
}
