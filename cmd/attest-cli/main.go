package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

// usageError marks failures caused by how the command was invoked.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

// errFailedCheck reports a completed check whose result was negative. Its
// output has already been written.
var errFailedCheck = errors.New("check failed")

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}
	root := newRootCmd()
	root.SetArgs(args[1:])
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	var ue usageError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errFailedCheck):
		return 1
	case errors.As(err, &ue), strings.HasPrefix(err.Error(), "unknown command"):
		fmt.Fprintln(stderr, err.Error())
		usage(stderr)
		return 2
	default:
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "attest",
		Short:         "Evaluate policy units and verify signed receipts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})
	root.AddCommand(newExecuteCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newReceiptCmd())
	root.AddCommand(newFetchCmd())
	root.AddCommand(newUnitCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newCIDCmd())
	return root
}

func exactArgs(n int, msg string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{msg: msg}
		}
		return nil
	}
}

func httpGet(client *http.Client, url string, token string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Attest CLI

Usage:
  attest execute <unit_path> --input input.json [--unit ID] [--effects read,network] [--key signing.key] [--card]
  attest verify <card.json> [--pub key.pub] [--host HOST] [--realm REALM] [--scheme SCHEME] [--json]
  attest receipt verify <receipt.json> [--pub key.pub]
  attest fetch <receipt_id> [--card] [--addr URL] [--token TOKEN]
  attest unit lint <unit_path>
  attest keys generate --out signing.key
  attest cid <file> [--raw]
`)
}
