// Package log contains the logrus hooks the command line uses for its log outputs.
package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

// AsyncHook extends the logrus.Hook functionality
// handling logs asynchronously.
type AsyncHook interface {
	logrus.Hook

	// Listen waits for log lines until ctx is done, then flushes.
	Listen(ctx context.Context)
}
