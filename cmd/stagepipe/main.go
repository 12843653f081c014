// stagepipe loads a pipeline of opaque stages and runs items through it.
//
// Usage:
//
//	stagepipe validate --pipeline pipeline.yaml [--manifest modules.yaml]
//	stagepipe routes   --pipeline pipeline.yaml [--manifest modules.yaml] [-o yaml|json]
//	stagepipe run      --pipeline pipeline.yaml --manifest modules.yaml --inputs in.json [--params group=key=file]
//	stagepipe serve    [--config config.yml] [--pipeline ...] [--manifest ...]
//	stagepipe version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
