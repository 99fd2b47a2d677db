package main

import "github.com/kentiq/prometheus/cmd"

func main() {
	cmd.Execute()
}
