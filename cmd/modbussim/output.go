package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/edgeo-scada/modbussim"
)

// Color codes
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorBold  = "\033[1m"
)

func color(c, s string) string {
	if noColor {
		return s
	}
	return c + s + colorReset
}

// BankResult is one address of a bank dump.
type BankResult struct {
	Unit    uint8  `json:"unit"`
	Bank    string `json:"bank"`
	Address uint16 `json:"address"`
	Value   uint16 `json:"value"`
	Hex     string `json:"hex,omitempty"`
}

func outputBank(w io.Writer, unit modbus.UnitID, kind modbus.BankKind, start uint16, values []uint16) error {
	switch outputFmt {
	case "json":
		return outputBankJSON(w, unit, kind, start, values)
	case "csv":
		return outputBankCSV(w, unit, kind, start, values)
	case "hex":
		return outputBankHex(w, values)
	default:
		return outputBankTable(w, unit, kind, start, values)
	}
}

func outputBankTable(w io.Writer, unit modbus.UnitID, kind modbus.BankKind, start uint16, values []uint16) error {
	if len(values) == 0 {
		fmt.Fprintf(w, "\n%s: empty\n\n", color(colorBold, bankTitle(unit, kind)))
		return nil
	}
	fmt.Fprintf(w, "\n%s (Address %d-%d, Count: %d)\n",
		color(colorBold, bankTitle(unit, kind)),
		start,
		int(start)+len(values)-1,
		len(values))
	fmt.Fprintln(w, strings.Repeat("-", 40))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if kind.IsBit() {
		fmt.Fprintln(tw, "ADDRESS\tVALUE\tSTATUS")
		fmt.Fprintln(tw, "-------\t-----\t------")
		for i, v := range values {
			status := color(colorRed, "OFF")
			if v != 0 {
				status = color(colorGreen, "ON")
			}
			fmt.Fprintf(tw, "%d\t%d\t%s\n", int(start)+i, v, status)
		}
	} else {
		fmt.Fprintln(tw, "ADDRESS\tDECIMAL\tHEX\tASCII")
		fmt.Fprintln(tw, "-------\t-------\t---\t-----")
		for i, v := range values {
			fmt.Fprintf(tw, "%d\t%d\t0x%04X\t%q\n", int(start)+i, v, v, modbus.DecodeASCII([]uint16{v}))
		}
	}
	tw.Flush()

	if !kind.IsBit() {
		if text := modbus.DecodeASCII(values); text != "" {
			fmt.Fprintf(w, "%s %q\n", color(colorCyan, "ASCII"), text)
		}
	}
	fmt.Fprintln(w)
	return nil
}

func outputBankJSON(w io.Writer, unit modbus.UnitID, kind modbus.BankKind, start uint16, values []uint16) error {
	results := make([]BankResult, len(values))
	for i, v := range values {
		results[i] = BankResult{
			Unit:    uint8(unit),
			Bank:    kind.String(),
			Address: start + uint16(i),
			Value:   v,
		}
		if !kind.IsBit() {
			results[i].Hex = fmt.Sprintf("0x%04X", v)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func outputBankCSV(w io.Writer, unit modbus.UnitID, kind modbus.BankKind, start uint16, values []uint16) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"unit", "bank", "address", "value"})
	for i, v := range values {
		cw.Write([]string{
			strconv.Itoa(int(unit)),
			kind.String(),
			strconv.Itoa(int(start) + i),
			strconv.Itoa(int(v)),
		})
	}
	cw.Flush()
	return cw.Error()
}

func outputBankHex(w io.Writer, values []uint16) error {
	for i, v := range values {
		if i > 0 {
			fmt.Fprint(w, " ")
		}
		fmt.Fprintf(w, "%04X", v)
	}
	fmt.Fprintln(w)
	return nil
}

func bankTitle(unit modbus.UnitID, kind modbus.BankKind) string {
	names := map[modbus.BankKind]string{
		modbus.Coils:            "Coils",
		modbus.DiscreteInputs:   "Discrete Inputs",
		modbus.HoldingRegisters: "Holding Registers",
		modbus.InputRegisters:   "Input Registers",
	}
	return fmt.Sprintf("Unit %d %s", unit, names[kind])
}
