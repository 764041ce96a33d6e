package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"atomicswap/internal/api"
	"atomicswap/internal/models"
)

var (
	optionAPI = &cli.StringFlag{
		Name:    "api",
		Usage:   "base URL of the swap coordinator API",
		Value:   "http://localhost:8080",
		EnvVars: []string{"SWAPCTL_API"},
	}
	optionTimeout = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "HTTP request timeout",
		Value: 30 * time.Second,
	}
)

func main() {
	app := &cli.App{
		Name:  "swapctl",
		Usage: "CLI for the cross-chain atomic swap coordinator",
		Flags: []cli.Flag{optionAPI, optionTimeout},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Start a swap",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Usage: "source asset symbol", Required: true},
					&cli.StringFlag{Name: "to", Usage: "destination asset symbol", Required: true},
					&cli.StringFlag{Name: "amount", Usage: "source amount in the asset's smallest unit", Required: true},
					&cli.StringFlag{Name: "to-amount", Usage: "destination amount in the smallest unit (quoted when omitted)"},
					&cli.StringFlag{Name: "recipient", Usage: "recipient address on the destination chain", Required: true},
					&cli.StringFlag{Name: "timelock", Usage: "destination timelock duration", Value: "2h"},
				},
				Action: createSwap,
			},
			{
				Name:      "status",
				Usage:     "Show a swap",
				ArgsUsage: "<swap-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "events", Usage: "include the audit log"},
				},
				Action: swapStatus,
			},
			{
				Name:  "list",
				Usage: "List swaps",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "only swaps in this status"},
					&cli.IntFlag{Name: "limit", Value: 50},
					&cli.IntFlag{Name: "offset"},
				},
				Action: listSwaps,
			},
			{
				Name:      "reveal",
				Usage:     "Release the secret of a swap (manual reveal mode)",
				ArgsUsage: "<swap-id>",
				Action:    revealSecret,
			},
			{
				Name:  "fee",
				Usage: "Calculate the fee for a prospective swap",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Required: true},
					&cli.StringFlag{Name: "to", Required: true},
					&cli.StringFlag{Name: "amount", Usage: "source amount in the smallest unit", Required: true},
				},
				Action: calculateFee,
			},
			{
				Name:  "quote",
				Usage: "Get an advisory rate",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Required: true},
					&cli.StringFlag{Name: "to", Required: true},
					&cli.StringFlag{Name: "amount", Usage: "amount in human units", Value: "1"},
				},
				Action: getQuote,
			},
			{
				Name:   "health",
				Usage:  "Show coordinator and chain health",
				Action: health,
			},
			{
				Name:      "watch",
				Usage:     "Stream swap events until interrupted",
				ArgsUsage: "[swap-id]",
				Action:    watch,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Exited with error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(c *cli.Context) *api.Client {
	return api.NewClient(c.String(optionAPI.Name), c.Duration(optionTimeout.Name))
}

func swapIDArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one swap id")
	}
	return c.Args().First(), nil
}

func createSwap(c *cli.Context) error {
	resp, err := newClient(c).CreateSwap(c.Context, api.CreateSwapRequest{
		FromAsset:        c.String("from"),
		ToAsset:          c.String("to"),
		Amount:           c.String("amount"),
		ToAmount:         c.String("to-amount"),
		Recipient:        c.String("recipient"),
		TimelockDuration: c.String("timelock"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("swap %s %s\n", resp.SwapID, resp.Status)
	fmt.Printf("  hashlock             %s\n", resp.Hashlock)
	fmt.Printf("  source expiry        %s\n", time.Unix(resp.SourceTimelock, 0).UTC().Format(time.RFC3339))
	fmt.Printf("  destination expiry   %s\n", time.Unix(resp.DestinationTimelock, 0).UTC().Format(time.RFC3339))
	return nil
}

func swapStatus(c *cli.Context) error {
	swapID, err := swapIDArg(c)
	if err != nil {
		return err
	}
	client := newClient(c)
	swap, err := client.GetSwap(c.Context, swapID)
	if err != nil {
		return err
	}
	if err := printJSON(swap); err != nil {
		return err
	}
	if !c.Bool("events") {
		return nil
	}
	events, err := client.ListEvents(c.Context, swapID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		printEvent(ev)
	}
	return nil
}

func listSwaps(c *cli.Context) error {
	swaps, err := newClient(c).ListSwaps(c.Context, c.String("status"), c.Int("limit"), c.Int("offset"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SWAP ID\tSTATUS\tFROM\tTO\tAMOUNT\tCREATED")
	for _, s := range swaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Status, s.FromAsset, s.ToAsset, s.Source.Amount, s.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func revealSecret(c *cli.Context) error {
	swapID, err := swapIDArg(c)
	if err != nil {
		return err
	}
	if err := newClient(c).RevealSecret(c.Context, swapID); err != nil {
		return err
	}
	fmt.Printf("secret release requested for %s\n", swapID)
	return nil
}

func calculateFee(c *cli.Context) error {
	fee, err := newClient(c).CalculateFee(c.Context, api.CalculateFeeRequest{
		FromAsset: c.String("from"),
		ToAsset:   c.String("to"),
		Amount:    c.String("amount"),
	})
	if err != nil {
		return err
	}
	return printJSON(fee)
}

func getQuote(c *cli.Context) error {
	quote, err := newClient(c).Quote(c.Context, c.String("from"), c.String("to"), c.String("amount"))
	if err != nil {
		return err
	}
	return printJSON(quote)
}

func health(c *cli.Context) error {
	report, err := newClient(c).Health(c.Context)
	if report != nil {
		if perr := printJSON(report); perr != nil {
			return perr
		}
	}
	return err
}

func watch(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newClient(c).Stream(ctx, c.Args().First(), func(ev models.SwapEvent) error {
		printEvent(ev)
		return nil
	})
}

func printEvent(ev models.SwapEvent) {
	line := fmt.Sprintf("%s  %s  %-16s", ev.CreatedAt.Format(time.RFC3339), ev.SwapID, ev.ToStatus)
	if ev.Leg != "" {
		line += "  leg=" + string(ev.Leg)
	}
	if ev.TxHash != "" {
		line += "  tx=" + ev.TxHash
	}
	if ev.Detail != "" {
		line += "  " + ev.Detail
	}
	fmt.Println(line)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
