package main

import "classtrack/cmd"

func main() {
	cmd.Execute()
}
