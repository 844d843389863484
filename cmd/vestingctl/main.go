package main

import "github.com/weeargh/kiwi/internal/cli"

func main() {
	cli.Execute()
}
