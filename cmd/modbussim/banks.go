package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/modbussim"
)

var banksUnit int

var banksCmd = &cobra.Command{
	Use:   "banks [co|di|hr|ir]...",
	Short: "Show the initial contents of the register banks",
	Example: `  modbussim banks
  modbussim banks hr --unit 2 -o json`,
	RunE: runBanks,
}

func init() {
	banksCmd.Flags().IntVarP(&banksUnit, "unit", "u", -1, "Only show this unit id")
}

func runBanks(cmd *cobra.Command, args []string) error {
	kinds := modbus.BankKinds
	if len(args) > 0 {
		kinds = nil
		for _, arg := range args {
			kind, err := modbus.ParseBankKind(arg)
			if err != nil {
				return err
			}
			kinds = append(kinds, kind)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	serverCtx, err := cfg.NewServerContext()
	if err != nil {
		return err
	}

	for _, slave := range serverCtx.Slaves() {
		if banksUnit >= 0 && int(slave.Unit()) != banksUnit {
			continue
		}
		for _, kind := range kinds {
			values, err := slave.Snapshot(kind)
			if err != nil {
				// Bank not configured for this unit.
				continue
			}
			if err := outputBank(os.Stdout, slave.Unit(), kind, 0, values); err != nil {
				return err
			}
		}
	}
	return nil
}
