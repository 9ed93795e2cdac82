package main

import "github.com/jonwraymond/toolgate/internal/cli"

func main() {
	cli.Execute()
}
