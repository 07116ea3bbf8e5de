// Package main is the entry point of the bytestreams command line.
package main

import (
	"context"

	"go.k6.io/bytestreams/cmd/state"
	"go.k6.io/bytestreams/internal/cmd"
)

func main() {
	cmd.ExecuteWithGlobalState(state.NewGlobalState(context.Background()))
}
