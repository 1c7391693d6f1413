// Command xfscore is the debug CLI entry point; see cmd/root.go.
package main

import "github.com/xfscore/xfs/cmd"

func main() {
	cmd.Execute()
}
