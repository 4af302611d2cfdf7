// Command admin operates on the sale ledger directly: provisioning referral
// codes, inspecting sales and applying signed content replacements. It is the
// administrative process the engine itself treats as external.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"solgrid/internal/contentauth"
	"solgrid/internal/persistence/ledger"
	"solgrid/internal/pricing"
	"solgrid/internal/referral"
)

func main() {
	logger := log.New(os.Stderr, "[admin] ", log.LstdFlags)

	dbPath := flag.String("db", "./data/ledger.db", "path to ledger.db")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	store, err := ledger.Open(*dbPath)
	if err != nil {
		logger.Fatalf("open ledger: %v", err)
	}
	defer store.Close()

	switch args[0] {
	case "codes":
		runCodes(store, args[1:], logger)
	case "sales":
		runSales(store, args[1:], logger)
	case "content":
		runContent(store, args[1:], logger)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin [-db path] <command>

commands:
  codes add -code CODE -percent N   provision (or update) a referral code
  codes deactivate -code CODE       deactivate a code, keeping its stats
  codes list                        list referral codes
  sales list                        list committed sales
  content replace -sale ID -ref URL -wallet W -ts MS -sig SIG
                                    replace a sale's content reference after
                                    verifying the buyer's signature`)
}

func runCodes(store *ledger.Store, args []string, logger *log.Logger) {
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("codes add", flag.ExitOnError)
		code := fs.String("code", "", "referral code")
		percent := fs.Float64("percent", 0, "discount percent (0-100)")
		_ = fs.Parse(args[1:])
		if *code == "" || *percent <= 0 || *percent >= 100 {
			logger.Fatalf("codes add: need -code and -percent in (0,100)")
		}
		if err := store.UpsertReferralCode(*code, *percent, true); err != nil {
			logger.Fatalf("upsert code: %v", err)
		}
		fmt.Printf("code %s: %.2f%% active\n", referral.Canonicalize(*code), *percent)

	case "deactivate":
		fs := flag.NewFlagSet("codes deactivate", flag.ExitOnError)
		code := fs.String("code", "", "referral code")
		_ = fs.Parse(args[1:])
		if *code == "" {
			logger.Fatalf("codes deactivate: need -code")
		}
		if err := store.SetReferralActive(referral.Canonicalize(*code), false); err != nil {
			logger.Fatalf("deactivate: %v", err)
		}
		fmt.Printf("code %s deactivated\n", referral.Canonicalize(*code))

	case "list":
		rows, err := store.ListReferralCodes()
		if err != nil {
			logger.Fatalf("list codes: %v", err)
		}
		for _, r := range rows {
			state := "active"
			if !r.Active {
				state = "inactive"
			}
			fmt.Printf("%-16s %6.2f%%  referred=%-6d %s\n", r.Code, r.DiscountPercent, r.BlocksReferred, state)
		}

	default:
		usage()
		os.Exit(2)
	}
}

func runSales(store *ledger.Store, args []string, logger *log.Logger) {
	if len(args) == 0 || args[0] != "list" {
		usage()
		os.Exit(2)
	}
	rows, err := store.ListSales()
	if err != nil {
		logger.Fatalf("list sales: %v", err)
	}
	for _, r := range rows {
		fmt.Printf("%s  %s  %dx%d@(%d,%d)  %s  buyer=%s  %s\n",
			r.ID, r.CommittedAt,
			r.Bounds.Width, r.Bounds.Height, r.Bounds.MinCol, r.Bounds.MinRow,
			pricing.FormatCents(r.PriceCents), r.Buyer, r.Link)
	}
}

func runContent(store *ledger.Store, args []string, logger *log.Logger) {
	if len(args) == 0 || args[0] != "replace" {
		usage()
		os.Exit(2)
	}
	fs := flag.NewFlagSet("content replace", flag.ExitOnError)
	saleID := fs.String("sale", "", "sale id")
	ref := fs.String("ref", "", "new content reference URL")
	wallet := fs.String("wallet", "", "buyer wallet address (base58 ed25519 key)")
	ts := fs.Int64("ts", 0, "request timestamp (unix ms)")
	sig := fs.String("sig", "", "base64 signature over the update-content message")
	skipVerify := fs.Bool("skip-verify", false, "operator override: skip signature check")
	_ = fs.Parse(args[1:])

	if *saleID == "" || *ref == "" {
		logger.Fatalf("content replace: need -sale and -ref")
	}

	sale, err := store.GetSale(*saleID)
	if err != nil {
		logger.Fatalf("lookup sale: %v", err)
	}

	if !*skipVerify {
		if *wallet != sale.Buyer {
			logger.Fatalf("wallet %s does not own sale %s", *wallet, *saleID)
		}
		if err := contentauth.Verify(*wallet, *ts, *sig, time.Now()); err != nil {
			logger.Fatalf("verify: %v", err)
		}
	}

	if err := store.UpdateContentRef(*saleID, *ref); err != nil {
		logger.Fatalf("replace content: %v", err)
	}
	fmt.Printf("sale %s content replaced\n", *saleID)
}
