package exprmod

import (
	"context"
	"fmt"

	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/stage"
)

// Backend instantiates exprmod modules. Only CPU devices are supported.
type Backend struct {
	log *logger.Logger
}

var _ stage.Backend = (*Backend)(nil)

// NewBackend creates a backend. A nil logger uses the global one.
func NewBackend(log *logger.Logger) *Backend {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Backend{log: log.WithComponent("exprmod")}
}

// Instantiate compiles graph into a module. code is the module's constant
// table.
func (b *Backend) Instantiate(ctx context.Context, code []byte, graph string, dev stage.Device) (stage.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dev.Type != stage.DeviceCPU {
		return nil, fmt.Errorf("device %s is not supported", dev)
	}
	consts, err := decodeObject(code)
	if err != nil {
		return nil, fmt.Errorf("code: %w", err)
	}
	g, err := ParseGraph(graph)
	if err != nil {
		return nil, err
	}
	m, err := New(g, consts, dev)
	if err != nil {
		return nil, err
	}
	b.log.Debug("module compiled", logger.Fields("inputs", len(m.Inputs()), "outputs", len(m.Outputs()), "device", dev.String()))
	return m, nil
}
