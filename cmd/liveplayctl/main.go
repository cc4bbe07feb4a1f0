package main

import "github.com/dalemusser/liveplay/internal/app/cli"

func main() {
	cli.Execute()
}
