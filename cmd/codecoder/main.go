package main

import (
	"fmt"
	"os"
)

func main() {
	cli := NewCLI()
	err := cli.Root().Execute()
	cli.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
