// Command simulate replays a price path through the protective ladder and
// prints every action it would take. Useful for sanity-checking profile
// thresholds before putting capital behind them.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vitos/crypto_risk_engine/internal/domain"
	"github.com/vitos/crypto_risk_engine/internal/usecase"
)

func main() {
	var (
		symbol  = flag.String("symbol", "BTC/USD", "instrument symbol")
		side    = flag.String("side", "LONG", "LONG or SHORT")
		entry   = flag.Float64("entry", 100, "entry price")
		qty     = flag.Float64("qty", 1, "position quantity")
		stopPct = flag.Float64("stop", 0.02, "stop distance as a fraction of entry")
		prices  = flag.String("prices", "", "comma-separated price path, or - to read one price per line from stdin")
	)
	flag.Parse()

	path, err := parsePrices(*prices)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad price path: %v\n", err)
		os.Exit(1)
	}
	if len(path) == 0 {
		fmt.Fprintln(os.Stderr, "no prices given, use -prices or pipe to stdin with -prices -")
		os.Exit(1)
	}

	profile := domain.DefaultProfile()
	engine := usecase.NewProtectiveLadderEngine(profile, zap.NewNop())

	pos := usecase.BuildProtectedPosition(profile, "sim", *symbol, domain.Side(strings.ToUpper(*side)), *entry, *qty, 1, *stopPct)
	engine.Register(pos)

	fmt.Printf("entry=%.4f stop=%.4f break_even=%.4f trailing_from=%.4f\n",
		pos.EntryPrice, pos.StopLoss, pos.BreakEvenLevel, pos.TrailingTrigger)

	for i, price := range path {
		for _, action := range engine.Tick(*symbol, price) {
			switch action.Type {
			case domain.LadderHold:
				fmt.Printf("%4d  %10.4f  HOLD\n", i, price)
			case domain.LadderPartialExit:
				fmt.Printf("%4d  %10.4f  PARTIAL_EXIT %.0f%% (%s)\n", i, price, action.Fraction*100, action.Reason)
				engine.ReduceQuantity(*symbol, action.Fraction)
			case domain.LadderMoveStop, domain.LadderTrailStop:
				fmt.Printf("%4d  %10.4f  %s -> %.4f (%s)\n", i, price, action.Type, action.NewStop, action.Reason)
			case domain.LadderExitAll:
				fmt.Printf("%4d  %10.4f  EXIT_ALL (%s)\n", i, price, action.Reason)
				return
			}
		}
	}

	if remaining, ok := engine.Position(*symbol); ok {
		last := path[len(path)-1]
		fmt.Printf("still open: qty=%.6f stop=%.4f unrealized=%.2f%%\n",
			remaining.Quantity, remaining.StopLoss, remaining.ProfitPct(last)*100)
	}
}

func parsePrices(arg string) ([]float64, error) {
	var fields []string
	if arg == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				fields = append(fields, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	} else if arg != "" {
		fields = strings.Split(arg, ",")
	}

	path := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		path = append(path, v)
	}
	return path, nil
}
