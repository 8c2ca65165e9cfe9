package main

import "github.com/llmosd/llmosd/cmd"

func main() {
	cmd.Execute()
}
