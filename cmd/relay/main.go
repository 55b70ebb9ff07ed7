package main

import "github.com/Olgitta/kirk-ws/cmd/relay/cmd"

func main() {
	cmd.Execute()
}
