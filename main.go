// The main package for the tramitador executable.
package main

import (
	"github.com/rlorentegh/tramitador/cmd"
)

func main() {
	cmd.Execute()
}
