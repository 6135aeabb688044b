// Command walletctl manages shop wallets and runs one-off purchases,
// transfers and payment request mails from the command line.
//
// Passphrases and credentials are read from the environment (or .env),
// never from flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OKaluzny/token-shop/internal/app"
	"github.com/OKaluzny/token-shop/internal/config"
	"github.com/OKaluzny/token-shop/internal/notify"
	"github.com/OKaluzny/token-shop/internal/purchase"
	"github.com/OKaluzny/token-shop/internal/wallet"
)

const usage = `usage: walletctl <command> [flags]

commands:
  create     create a wallet and save its seed
  address    print a wallet address
  balance    print an account balance
  buy        buy from the shop with the player wallet
  transfer   transfer tokens directly
  notify     mail a payment request
`

var errUsage = errors.New("usage")

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.Load(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "create":
		return runCreate(cfg, args, out)
	case "address":
		return runAddress(cfg, args, out)
	case "balance":
		return runBalance(ctx, cfg, args, out)
	case "buy":
		return runBuy(ctx, cfg, args, out)
	case "transfer":
		return runTransfer(ctx, cfg, args, out)
	case "notify":
		return runNotify(ctx, cfg, args, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

// seedSource picks the player or shop seed file settings.
func seedSource(cfg config.Config, shop bool) (path, id string, passphrase config.Secret) {
	if shop {
		return cfg.ShopSeedFile, cfg.ShopWalletID, cfg.ShopSeedPassphrase
	}
	return cfg.SeedFile, cfg.WalletID, cfg.SeedPassphrase
}

func runCreate(cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	shop := fs.Bool("shop", false, "save to the shop seed file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, _, passphrase := seedSource(cfg, *shop)
	w, mnemonic, err := wallet.Create(cfg.Network)
	if err != nil {
		return err
	}
	if err := w.SaveSeed(path, passphrase.Reveal()); err != nil {
		return err
	}
	addr, err := w.DefaultAddress()
	if err != nil {
		return err
	}
	if passphrase == "" {
		slog.Warn("seed saved unencrypted, set a passphrase to encrypt it", "path", path)
	}

	fmt.Fprintf(out, "wallet id: %s\naddress:   %s\nseed file: %s\n\n", w.ID(), addr.Address, path)
	fmt.Fprintf(out, "Write down this recovery phrase. It is shown once:\n\n%s\n", mnemonic)
	return nil
}

func runAddress(cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	shop := fs.Bool("shop", false, "use the shop seed file")
	index := fs.Uint("index", 0, "BIP-44 address index")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, id, passphrase := seedSource(cfg, *shop)
	w, err := wallet.LoadSeedFromFile(path, id, passphrase.Reveal(), cfg.Network)
	if err != nil {
		return err
	}
	addr, err := w.Address(uint32(*index))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, addr.Address)
	return nil
}

// services validates cfg and wires the chain-facing components.
func services(ctx context.Context, cfg config.Config) (*app.Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func runBalance(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	account := fs.String("account", "", "account address (default: player wallet)")
	symbol := fs.String("symbol", cfg.TokenSymbol, "token symbol")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := services(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if *account == "" {
		*account = svc.Player
	}
	if *account == "" {
		return fmt.Errorf("%w: -account is required without a player wallet", errUsage)
	}
	tok, err := svc.Tokens.Lookup(*symbol)
	if err != nil {
		return err
	}
	bal, err := svc.Ledger.QueryBalance(ctx, *account, tok.Contract)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", tok.Format(bal), strings.ToUpper(tok.Symbol))
	return nil
}

func runBuy(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("buy", flag.ContinueOnError)
	amount := fs.String("amount", "", "price in display units, e.g. 50")
	payee := fs.String("payee", "", "payee address (default: shop wallet)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *amount == "" {
		return fmt.Errorf("%w: -amount is required", errUsage)
	}

	svc, err := services(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	price, err := svc.Item.Parse(*amount)
	if err != nil {
		return err
	}
	if *payee == "" {
		*payee = svc.Shop
	}
	res, err := svc.Workflow.Execute(ctx, purchase.Request{
		Payer:    svc.Player,
		Payee:    *payee,
		Contract: svc.Item.Contract,
		Price:    price,
	})
	printOutcome(out, res)
	return err
}

func runTransfer(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	from := fs.String("from", "shop", `sender: "shop", "player" or an address`)
	to := fs.String("to", "", `recipient: "shop", "player" or an address`)
	amount := fs.String("amount", "", "amount in display units")
	symbol := fs.String("symbol", cfg.TokenSymbol, "token symbol")
	gasless := fs.Bool("gasless", false, "submit with a zero gas price (needs GASLESS_SPONSORED)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" || *amount == "" {
		return fmt.Errorf("%w: -to and -amount are required", errUsage)
	}

	svc, err := services(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	tok, err := svc.Tokens.Lookup(*symbol)
	if err != nil {
		return err
	}
	units, err := tok.Parse(*amount)
	if err != nil {
		return err
	}
	res, err := svc.Workflow.ExecuteDirectTransfer(ctx, purchase.TransferRequest{
		From:    resolve(svc, *from),
		To:      resolve(svc, *to),
		Symbol:  tok.Symbol,
		Amount:  units,
		Gasless: *gasless,
	})
	printOutcome(out, res)
	return err
}

// resolve maps the wallet aliases to their loaded addresses.
func resolve(svc *app.Services, who string) string {
	switch strings.ToLower(who) {
	case "shop":
		return svc.Shop
	case "player":
		return svc.Player
	}
	return who
}

func runNotify(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("notify", flag.ContinueOnError)
	to := fs.String("to", "", "subscriber email address")
	amount := fs.String("amount", "", "amount to request, e.g. 50")
	link := fs.String("link", "", "approval link")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" || *amount == "" {
		return fmt.Errorf("%w: -to and -amount are required", errUsage)
	}

	var sender notify.Sender = notify.NewLogSender()
	if cfg.MailEnabled() {
		s, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
		if err != nil {
			return err
		}
		sender = s
	}

	display := *amount + " " + strings.ToUpper(cfg.TokenSymbol)
	if err := sender.Send(ctx, notify.PaymentRequest(*to, display, *link)); err != nil {
		return err
	}
	fmt.Fprintf(out, "payment request for %s sent to %s\n", display, *to)
	return nil
}

func printOutcome(out io.Writer, res *purchase.Outcome) {
	if res == nil {
		return
	}
	fmt.Fprintf(out, "id:     %s\nstate:  %s\n", res.ID, res.State)
	if res.ApprovalTx != "" {
		fmt.Fprintf(out, "approve:  %s (confirmed: %t)\n", res.ApprovalTx, res.ApprovalConfirmed)
	}
	if res.TransferTx != "" {
		fmt.Fprintf(out, "transfer: %s\n", res.TransferTx)
	}
}
