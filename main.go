package main

import (
	"os"

	"github.com/shipengqi/registry-api/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
