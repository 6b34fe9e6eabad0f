package main

import "github.com/audiolibrelab/micnote/cmd"

func main() {
	cmd.Execute()
}
