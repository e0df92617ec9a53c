package main

import "github.com/pumpkinos/guestcore/cmd/guestrun/cmd"

func main() {
	cmd.Execute()
}
