package main

import "github.com/nextlevelbuilder/agentroute/cmd"

func main() {
	cmd.Execute()
}
