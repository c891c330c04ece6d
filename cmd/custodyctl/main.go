// Command custodyctl drives the wallet custody operations from the shell.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/better-wallet/custody/internal/app"
	"github.com/better-wallet/custody/internal/chains"
	"github.com/better-wallet/custody/internal/config"
	"github.com/better-wallet/custody/internal/logger"
	"github.com/better-wallet/custody/internal/metrics"
	apperrors "github.com/better-wallet/custody/pkg/errors"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			_ = printJSON(os.Stderr, appErr)
		} else {
			slog.Error("command failed", "error", err)
		}
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "custodyctl",
		Usage: "provision custodial wallets and sign, send and read balances through them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "dotenv file loaded before reading configuration",
				Value:   ".env",
				EnvVars: []string{"CUSTODY_ENV_FILE"},
			},
			&cli.StringFlag{
				Name:  "pushgateway",
				Usage: "Pushgateway URL operation metrics are pushed to (default $METRICS_PUSHGATEWAY)",
			},
		},
		Commands: []*cli.Command{
			walletsCmd,
			balanceCmd,
			signCmd,
			sendCmd,
			chainsCmd,
		},
	}
}

var userFlag = &cli.StringFlag{Name: "user", Usage: "owning user id", Required: true}
var walletFlag = &cli.StringFlag{Name: "wallet", Usage: "wallet id", Required: true}
var chainFlag = &cli.StringFlag{Name: "chain", Usage: "chain id or alias; defaults to the wallet family's default chain"}

var walletsCmd = &cli.Command{
	Name:  "wallets",
	Usage: "list or create wallets",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "list a user's wallets",
			Flags: []cli.Flag{userFlag},
			Action: withRuntime("wallets_list", func(cctx *cli.Context, svc *app.WalletService) (any, error) {
				return svc.ListWallets(cctx.Context, cctx.String("user"))
			}),
		},
		{
			Name:  "create",
			Usage: "get or create the user's wallet for a chain family",
			Flags: []cli.Flag{
				userFlag,
				&cli.StringFlag{Name: "chain", Usage: "chain family (evm, solana), chain id or alias", Value: "evm"},
			},
			Action: withRuntime("wallets_create", func(cctx *cli.Context, svc *app.WalletService) (any, error) {
				return svc.CreateWallet(cctx.Context, cctx.String("user"), cctx.String("chain"))
			}),
		},
	},
}

var balanceCmd = &cli.Command{
	Name:  "balance",
	Usage: "read a wallet's native or token balance",
	Flags: []cli.Flag{
		userFlag,
		walletFlag,
		chainFlag,
		&cli.StringFlag{Name: "token", Usage: "token contract or SPL mint address"},
	},
	Action: withRuntime("balance", func(cctx *cli.Context, svc *app.WalletService) (any, error) {
		return svc.GetBalance(cctx.Context, &app.GetBalanceRequest{
			UserID:       cctx.String("user"),
			WalletID:     cctx.String("wallet"),
			TokenAddress: cctx.String("token"),
			ChainID:      cctx.String("chain"),
		})
	}),
}

var signCmd = &cli.Command{
	Name:  "sign",
	Usage: "sign a message with a wallet",
	Flags: []cli.Flag{
		userFlag,
		walletFlag,
		&cli.StringFlag{Name: "message", Usage: "message to sign", Required: true},
	},
	Action: withRuntime("sign", func(cctx *cli.Context, svc *app.WalletService) (any, error) {
		return svc.SignMessage(cctx.Context, &app.SignMessageRequest{
			UserID:   cctx.String("user"),
			WalletID: cctx.String("wallet"),
			Message:  cctx.String("message"),
		})
	}),
}

var sendCmd = &cli.Command{
	Name:  "send",
	Usage: "send native value, optionally with EVM call data",
	Flags: []cli.Flag{
		userFlag,
		walletFlag,
		chainFlag,
		&cli.StringFlag{Name: "to", Usage: "destination address", Required: true},
		&cli.Float64Flag{Name: "amount", Usage: "amount in whole native units", Required: true},
		&cli.StringFlag{Name: "data", Usage: "hex call data (EVM only)"},
	},
	Action: withRuntime("send", func(cctx *cli.Context, svc *app.WalletService) (any, error) {
		return svc.SendTransaction(cctx.Context, &app.SendTransactionRequest{
			UserID:   cctx.String("user"),
			WalletID: cctx.String("wallet"),
			To:       cctx.String("to"),
			Amount:   cctx.Float64("amount"),
			Data:     cctx.String("data"),
			ChainID:  cctx.String("chain"),
		})
	}),
}

var chainsCmd = &cli.Command{
	Name:  "chains",
	Usage: "list supported chains",
	Action: func(cctx *cli.Context) error {
		opts, err := config.LoadChainOptions(cctx.String("env-file"))
		if err != nil {
			return err
		}
		registry, err := chains.NewDefaultRegistry(opts)
		if err != nil {
			return err
		}
		type row struct {
			ID       string   `json:"id"`
			Family   string   `json:"family"`
			Name     string   `json:"name"`
			Symbol   string   `json:"native_symbol"`
			Aliases  []string `json:"aliases,omitempty"`
			RPCURL   string   `json:"rpc_url"`
			Custody  string   `json:"custody_network_id"`
			Defaults bool     `json:"default"`
		}
		var rows []row
		for _, c := range registry.List() {
			def, _ := registry.Default(c.Family)
			rows = append(rows, row{
				ID:       c.ID,
				Family:   string(c.Family),
				Name:     c.Name,
				Symbol:   c.NativeSymbol,
				Aliases:  c.Aliases,
				RPCURL:   c.RPCURL,
				Custody:  c.CustodyNetworkID,
				Defaults: def != nil && def.ID == c.ID,
			})
		}
		return printJSON(cctx.App.Writer, rows)
	},
}

// withRuntime wires the service for a command, prints its result as JSON and
// pushes the metrics the command recorded when a Pushgateway is configured
func withRuntime(command string, run func(cctx *cli.Context, svc *app.WalletService) (any, error)) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		cctx.Context = logger.WithRequestID(cctx.Context, uuid.NewString())

		rt, err := newRuntime(cctx.Context, cctx.String("env-file"))
		if err != nil {
			return err
		}
		defer rt.Close()

		out, err := run(cctx, rt.wallets)
		pushMetrics(cctx, command, rt.cfg.MetricsPushgateway)
		if err != nil {
			return err
		}
		return printJSON(cctx.App.Writer, out)
	}
}

// pushMetrics is best effort; a failed push never fails the command
func pushMetrics(cctx *cli.Context, command, configured string) {
	url := cctx.String("pushgateway")
	if url == "" {
		url = configured
	}
	if url == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := metrics.Push(ctx, url, cctx.App.Name, map[string]string{"command": command}); err != nil {
		logger.Warn(cctx.Context, "metrics push failed", "pushgateway", url, "error", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
