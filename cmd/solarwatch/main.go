package main

import "solar-alerts/internal/cli"

func main() {
	cli.Execute()
}
