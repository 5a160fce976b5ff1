package main

import "github.com/darren-sm/crypto-data-pipeline/internal/cli"

func main() {
	cli.Execute()
}
