package main

import (
	dockflowcmd "github.com/initializ/dockflow/cmd"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	dockflowcmd.SetVersionInfo(version, commit)
	dockflowcmd.Execute()
}
