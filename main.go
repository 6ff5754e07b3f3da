package main

import (
	"github.com/luma/oocsi/cmd"
)

func main() {
	cmd.Execute()
}
