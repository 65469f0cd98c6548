package main

import "github.com/winlab/sdnproxy/cmd"

func main() {
	cmd.Execute()
}
