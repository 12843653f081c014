// Package pipeconfig loads and validates pipeline configurations.
//
// A configuration describes how stage outputs feed stage inputs, which
// external input names bind to which stage ports, which parameter groups
// belong to which stage, and which stage ports are the pipeline's outputs:
//
//	{
//	  "connections": [{"from": {"stage": 0, "output": "y"}, "to": [{"stage": 1, "input": "y"}]}],
//	  "input_map":   {"x": [0, "x"]},
//	  "param_map":   {"g1": 1},
//	  "output_map":  {"z": [1, "z"]}
//	}
//
// The same document may be written in YAML. Load validates the whole
// document and reports every structural problem at once as a CONFIG_ERROR;
// a cyclic connection graph is reported as CYCLIC_PIPELINE. A loaded Config
// is immutable and safe for concurrent use.
package pipeconfig
