package main

import (
	"github.com/relmake/relmake/cmd"
)

func main() {
	cmd.Execute()
}
