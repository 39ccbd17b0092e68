package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/modbussim/internal/serialport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports available for RTU",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serialport.List()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	},
}
