package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

var (
	headStyle = lipgloss.NewStyle().Bold(true)
	gainStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	lossStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// signed colors an already padded cell by the sign of v.
func signed(v float64, cell string) string {
	switch {
	case v > 0:
		return gainStyle.Render(cell)
	case v < 0:
		return lossStyle.Render(cell)
	}
	return cell
}

func fmtPct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

// fmtMoney renders v as dollars with thousands separators and cents.
func fmtMoney(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign, d = "-", d.Neg()
	}
	fixed := d.StringFixed(2)
	return sign + "$" + humanize.Comma(d.IntPart()) + fixed[len(fixed)-3:]
}
