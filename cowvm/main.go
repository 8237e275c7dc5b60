// Command cowvm runs memory-access scripts against the copy-on-write
// virtual memory simulator.
package main

import "github.com/sarchlab/cowvm/cowvm/cmd"

func main() {
	cmd.Execute()
}
