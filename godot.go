package main

import (
	"context"
	"os"

	"github.com/MmAaXx500/binutils-gdb-godot/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
