package main

import (
	"github.com/mlecomte/qrtrack/cmd"
	_ "github.com/mlecomte/qrtrack/cmd/cli"
	_ "github.com/mlecomte/qrtrack/cmd/server"
)

func main() {
	cmd.Execute()
}
