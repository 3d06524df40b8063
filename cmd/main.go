package main

import "github.com/okian/cgmrisk/internal/cli"

func main() {
	cli.Execute()
}
