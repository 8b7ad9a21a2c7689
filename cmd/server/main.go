package main

import "github.com/eventhorizon/server/cmd/server/cmd"

func main() {
	cmd.Execute()
}
