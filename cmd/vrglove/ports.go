package main

import (
	"fmt"

	"github.com/gwillem/vrglove/pkg/glove"
)

type PortsCommand struct{}

func (c *PortsCommand) Execute(args []string) error {
	ports, err := glove.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	fmt.Println()
	fmt.Println(dimStyle.Render("Set glove.port in " + opts.Config + " or VRGLOVE_PORT to use one."))
	return nil
}
