package main

import "github.com/brocaar/chirpstack-otaa-provisioner/cmd/chirpstack-otaa-provisioner/cmd"

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
