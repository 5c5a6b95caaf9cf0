package main

import "github.com/warehouse-sim/warehouse-sim/cmd"

func main() {
	cmd.Execute()
}
