// Package exprmod is an interpreted stage backend. Each module is described
// by a graph document naming its inputs and computing every output with an
// expr-lang expression:
//
//	{"inputs": ["x", "w"], "outputs": {"y": "x * params.scale + w"}}
//
// Expressions see the module's inputs by name, the last loaded parameter
// object as params and the code artifact's constant table as consts. Both
// the code artifact and parameter blobs are JSON or YAML objects.
package exprmod
