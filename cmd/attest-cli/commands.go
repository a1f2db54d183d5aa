package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/internal/engine"
	"github.com/davidahmann/attest/internal/ledger"
	"github.com/davidahmann/attest/internal/policy"
	"github.com/davidahmann/attest/internal/verify"
	"github.com/davidahmann/attest/pkg/types"
	"github.com/spf13/cobra"
)

func newExecuteCmd() *cobra.Command {
	var (
		unitID    string
		inputPath string
		effects   []string
		keyPath   string
		withCard  bool
		host      string
	)
	cmd := &cobra.Command{
		Use:   "execute <unit_path>",
		Short: "Evaluate a unit file or directory against an input and print the receipt",
		Args:  exactArgs(1, "execute requires <unit_path>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" {
				return usageError{msg: "execute requires --input"}
			}
			registry, id, err := loadUnits(args[0], unitID)
			if err != nil {
				return err
			}
			raw, err := readInput(cmd, inputPath)
			if err != nil {
				return err
			}
			input, err := crypto.DecodeJSON(raw)
			if err != nil {
				return fmt.Errorf("input: %w", err)
			}

			var opts []engine.Option
			var signer *crypto.Ed25519Signer
			if keyPath != "" {
				priv, _, err := crypto.LoadEd25519PrivateKey(keyPath)
				if err != nil {
					return err
				}
				signer = crypto.NewEd25519Signer("", priv)
				opts = append(opts, engine.WithSigner(signer))
			}
			var mode *types.Mode
			if len(effects) > 0 {
				mode = &types.Mode{}
				for _, name := range effects {
					e, err := types.ParseEffect(name)
					if err != nil {
						return usageError{msg: err.Error()}
					}
					mode.Effects = append(mode.Effects, e)
				}
			}

			receipt, err := engine.New(registry, opts...).Execute(cmd.Context(), id, input, mode)
			if err != nil {
				return err
			}
			out := map[string]any{"receipt": receipt}
			if withCard {
				var cardSigner ledger.Signer
				if signer != nil {
					cardSigner = signer
				}
				card, err := ledger.MakeCard(receipt, cardSigner, ledger.CardOptions{Host: host})
				if err != nil {
					return err
				}
				out["card"] = card
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&unitID, "unit", "", "unit id when the path holds several units")
	cmd.Flags().StringVar(&inputPath, "input", "", "input JSON file, or - for stdin")
	cmd.Flags().StringSliceVar(&effects, "effects", nil, "allowed effects (default read)")
	cmd.Flags().StringVar(&keyPath, "key", "", "Ed25519 private key used to sign the receipt and card")
	cmd.Flags().BoolVar(&withCard, "card", false, "also print the receipt card")
	cmd.Flags().StringVar(&host, "host", "", "deployment host for card links")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		pubPath string
		opts    verify.Options
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "verify <card.json>",
		Short: "Check a receipt card and, with --pub, its seal",
		Args:  exactArgs(1, "verify requires <card.json>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			// #nosec G304 -- path is operator-provided.
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			card, err := verify.ParseCard(data)
			if err != nil {
				return err
			}
			res := verify.Card(card, opts)

			seal := "skipped"
			if pubPath != "" {
				pub, err := crypto.LoadEd25519PublicKey(pubPath)
				if err != nil {
					return err
				}
				seal = "valid"
				if err := verify.Seal(card, pub); err != nil {
					seal = "invalid"
				}
			}

			if jsonOut {
				if err := printJSON(cmd, map[string]any{"status": res.Status, "code": res.Code, "seal": seal}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "status=%s code=%s seal=%s\n", res.Status, res.Code, seal)
			}
			if !res.OK() || seal == "invalid" {
				return errFailedCheck
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pubPath, "pub", "", "Ed25519 public key for seal verification")
	cmd.Flags().StringVar(&opts.Host, "host", "", "expected deployment host")
	cmd.Flags().StringVar(&opts.Realm, "realm", "", "expected card realm")
	cmd.Flags().StringVar(&opts.PortableScheme, "scheme", "", "internal object href scheme")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}

func newReceiptCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "receipt", Short: "Work with execution receipts"}
	var pubPath string
	check := &cobra.Command{
		Use:   "verify <receipt.json>",
		Short: "Recompute a receipt's digests and check its signature",
		Args:  exactArgs(1, "receipt verify requires <receipt.json>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			// #nosec G304 -- path is operator-provided.
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			receipt, err := (ledger.ReceiptRecord{BodyJSON: data}).Receipt()
			if err != nil {
				return err
			}
			var pub ed25519.PublicKey
			if pubPath != "" {
				if pub, err = crypto.LoadEd25519PublicKey(pubPath); err != nil {
					return err
				}
			}
			if err := ledger.VerifyReceipt(receipt, pub); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "valid=false receipt_id=%s error=%s\n", receipt.ID(), err)
				return errFailedCheck
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid=true receipt_id=%s decision=%s\n", receipt.ID(), receipt.Decision)
			return nil
		},
	}
	check.Flags().StringVar(&pubPath, "pub", "", "Ed25519 public key; without it only digests are checked")
	cmd.AddCommand(check)
	return cmd
}

func newFetchCmd() *cobra.Command {
	var (
		addr     string
		token    string
		wantCard bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <receipt_id>",
		Short: "Download a receipt or its card from a gateway",
		Args:  exactArgs(1, "fetch requires <receipt_id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/receipts/"
			if wantCard {
				path = "/v1/cards/"
			}
			body, status, err := httpGet(http.DefaultClient, strings.TrimSuffix(addr, "/")+path+args[0], token)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("fetch failed: %s", strings.TrimSpace(string(body)))
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOrDefault("ATTEST_ADDR", defaultAddr), "gateway address")
	cmd.Flags().StringVar(&token, "token", envOrDefault("ATTEST_TOKEN", os.Getenv("ATTEST_DEV_TOKEN")), "bearer token")
	cmd.Flags().BoolVar(&wantCard, "card", false, "fetch the card instead of the receipt")
	return cmd
}

func newUnitCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "unit", Short: "Work with policy units"}
	cmd.AddCommand(&cobra.Command{
		Use:   "lint <unit_path>",
		Short: "Parse and validate a unit file",
		Args:  exactArgs(1, "unit lint requires <unit_path>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := policy.LoadUnit(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok unit_id=%s unit_hash=%s rules=%d\n", loaded.Unit.ID, loaded.Unit.Hash, len(loaded.Unit.Rules))
			return nil
		},
	})
	return cmd
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Manage signing keys"}
	var out string
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Create an Ed25519 signing key",
		Args:  exactArgs(0, "keys generate takes no arguments"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return usageError{msg: "keys generate requires --out"}
			}
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			priv, pub, err := crypto.GenerateKeyPair(rand.Reader)
			if err != nil {
				return err
			}
			if err := crypto.WriteEd25519PrivateKey(out, priv); err != nil {
				return err
			}
			pubPath := out + ".pub"
			if err := os.WriteFile(pubPath, []byte("hex:"+hex.EncodeToString(pub)+"\n"), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key_id=%s private=%s public=%s\n", crypto.KeyIDFor(pub), out, pubPath)
			return nil
		},
	}
	gen.Flags().StringVar(&out, "out", "", "private key path; the public key is written to <out>.pub")
	cmd.AddCommand(gen)
	return cmd
}

func newCIDCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "cid <file>",
		Short: "Print the content id of a JSON document (canonicalized) or raw file",
		Args:  exactArgs(1, "cid requires <file>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			// #nosec G304 -- path is operator-provided.
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if raw {
				fmt.Fprintln(cmd.OutOrStdout(), crypto.CID(data))
				return nil
			}
			doc, err := crypto.DecodeJSON(data)
			if err != nil {
				return err
			}
			cid, err := crypto.CIDOfJSON(doc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cid)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "hash the file bytes without canonicalizing")
	return cmd
}

// loadUnits reads one unit file or a directory of them. The unit id may be
// omitted when exactly one unit is loaded.
func loadUnits(path, unitID string) (*policy.Registry, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}
	var loaded []policy.LoadedUnit
	if info.IsDir() {
		if loaded, err = policy.LoadDir(path); err != nil {
			return nil, "", err
		}
	} else {
		one, err := policy.LoadUnit(path)
		if err != nil {
			return nil, "", err
		}
		loaded = []policy.LoadedUnit{one}
	}
	registry, err := policy.NewRegistry(policy.Units(loaded)...)
	if err != nil {
		return nil, "", err
	}
	if unitID == "" {
		if len(loaded) != 1 {
			return nil, "", usageError{msg: fmt.Sprintf("%d units found; choose one with --unit", len(loaded))}
		}
		unitID = loaded[0].Unit.ID
	}
	return registry, unitID, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	// #nosec G304 -- path is operator-provided.
	return os.ReadFile(path)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
