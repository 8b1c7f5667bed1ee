package main

import "github.com/jonesrussell/godispatch/cmd"

func main() {
	cmd.Execute()
}
