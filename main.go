package main

import "pgmetrics/cmd"

func main() {
	cmd.Execute()
}
