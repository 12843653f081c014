// Package router resolves external input names, parameter groups and
// pipeline output names to the stages and ports they address.
//
// A Router is a read-only view over a pipeconfig.Config and is safe for
// concurrent use.
package router

import (
	"github.com/kbukum/stagepipe/errors"
	"github.com/kbukum/stagepipe/pipeconfig"
)

// Router answers routing lookups for a loaded configuration.
type Router struct {
	cfg *pipeconfig.Config
}

// New creates a Router over cfg.
func New(cfg *pipeconfig.Config) *Router {
	return &Router{cfg: cfg}
}

// ResolveInput returns the stage and port an external input feeds.
func (r *Router) ResolveInput(name string) (int, string, error) {
	ep, ok := r.cfg.Input(name)
	if !ok {
		return 0, "", errors.UnknownInput(name)
	}
	return ep.Stage, ep.Port, nil
}

// ResolveParameterGroup returns the stage a parameter group loads into.
func (r *Router) ResolveParameterGroup(name string) (int, error) {
	s, ok := r.cfg.Param(name)
	if !ok {
		return 0, errors.UnknownParamGroup(name)
	}
	return s, nil
}

// ResolveOutput returns the stage port a pipeline output is read from.
func (r *Router) ResolveOutput(name string) (pipeconfig.Endpoint, error) {
	ep, ok := r.cfg.Output(name)
	if !ok {
		return pipeconfig.Endpoint{}, errors.UnknownOutput(name)
	}
	return ep, nil
}

// InputNames returns the external input names in sorted order.
func (r *Router) InputNames() []string { return clone(r.cfg.Inputs()) }

// ParamGroups returns the parameter group names in sorted order.
func (r *Router) ParamGroups() []string { return clone(r.cfg.Params()) }

// OutputNames returns the pipeline output names in sorted order.
func (r *Router) OutputNames() []string { return clone(r.cfg.Outputs()) }

// Route is one entry of a routing table.
type Route struct {
	Name  string `json:"name" yaml:"name"`
	Stage int    `json:"stage" yaml:"stage"`
	Port  string `json:"port,omitempty" yaml:"port,omitempty"`
}

// Table is the routing table reported to external callers.
type Table struct {
	Stages  int     `json:"stages" yaml:"stages"`
	Inputs  []Route `json:"inputs" yaml:"inputs"`
	Params  []Route `json:"params" yaml:"params"`
	Outputs []Route `json:"outputs" yaml:"outputs"`
	Levels  [][]int `json:"levels" yaml:"levels"`
}

// Describe returns every route, each list sorted by name.
func (r *Router) Describe() Table {
	t := Table{
		Stages:  r.cfg.NumStages(),
		Inputs:  make([]Route, 0, len(r.cfg.Inputs())),
		Params:  make([]Route, 0, len(r.cfg.Params())),
		Outputs: make([]Route, 0, len(r.cfg.Outputs())),
		Levels:  r.cfg.Levels(),
	}
	for _, name := range r.cfg.Inputs() {
		ep, _ := r.cfg.Input(name)
		t.Inputs = append(t.Inputs, Route{Name: name, Stage: ep.Stage, Port: ep.Port})
	}
	for _, name := range r.cfg.Params() {
		s, _ := r.cfg.Param(name)
		t.Params = append(t.Params, Route{Name: name, Stage: s})
	}
	for _, name := range r.cfg.Outputs() {
		ep, _ := r.cfg.Output(name)
		t.Outputs = append(t.Outputs, Route{Name: name, Stage: ep.Stage, Port: ep.Port})
	}
	return t
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}
