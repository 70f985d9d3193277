package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner displays the startup banner with the storage engine and the
// trading policy in effect.
func PrintBanner(w io.Writer, cfg *Config) {
	color := ColorGreen
	switch cfg.Database.Driver {
	case "postgres", "mysql":
		color = ColorCyan
	}
	if !*cfg.Trading.MarketIOC {
		color = ColorYellow
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(w)
	line("###########################################################")
	line("#               📈 MyHTS Simulated Exchange               #")
	line("#                                                         #")
	line("#   STORE:   %-44s #", cfg.Database.Driver)
	line("#   SYMBOLS: %-44s #", strings.Join(cfg.Trading.Symbols, ","))
	line("#   SHORT:   %-44v #", *cfg.Trading.AllowShort)
	line("#   IOC:     %-44v #", *cfg.Trading.MarketIOC)
	line("#   VERSION: %-44s #", cfg.App.Version)
	if !*cfg.Trading.MarketIOC {
		fmt.Fprintf(w, "%s#   ⚠️  MARKET ORDERS MAY REST WITHOUT A PRICE             #%s\n", ColorRed, ColorReset)
	}
	line("###########################################################")
	fmt.Fprintln(w)
}
