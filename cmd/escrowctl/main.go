// Command escrowctl is the operator client of escrowd. It reads escrow state
// over the HTTP API, submits authenticated calls and issues call tokens.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	envRPCURL   = "ESCROW_RPC_URL"
	envRPCToken = "ESCROW_RPC_TOKEN"
	envSecret   = "ESCROW_JWT_SECRET"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &client{
		endpoint: defaultRPCEndpoint(),
		token:    strings.TrimSpace(os.Getenv(envRPCToken)),
		http:     &http.Client{Timeout: 15 * time.Second},
	}
	args, err := applyGlobalFlags(c, args)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "status":
		return runStatus(c, args[1:], stdout, stderr)
	case "deposits":
		return runDeposits(c, args[1:], stdout, stderr)
	case "events":
		return runEvents(c, args[1:], stdout, stderr)
	case "deposit":
		return runDeposit(c, args[1:], stdout, stderr)
	case "withdraw":
		return runWithdraw(c, args[1:], stdout, stderr)
	case "delegate":
		return runDelegate(c, args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(envRPCURL)); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// applyGlobalFlags strips --rpc and --token wherever they appear.
func applyGlobalFlags(c *client, args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var target *string
		var name string
		switch {
		case arg == "--rpc" || strings.HasPrefix(arg, "--rpc="):
			target, name = &c.endpoint, "--rpc"
		case arg == "--token" || strings.HasPrefix(arg, "--token="):
			target, name = &c.token, "--token"
		default:
			out = append(out, arg)
			continue
		}
		if value, ok := strings.CutPrefix(arg, name+"="); ok {
			*target = value
			continue
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("missing value for %s", name)
		}
		*target = args[i+1]
		i++
	}
	return out, nil
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrowctl [--rpc URL] [--token JWT] <command> [flags]

Commands:
  status                 Show the escrow snapshot
  deposits [account]     List depositors or show one account with its shares
  events                 List journaled events (--type, --limit)
  deposit  --amount N    Deposit N base units (supports 15e24 shorthand)
  withdraw               Withdraw the caller's refund after a failed campaign
  delegate --name NAME   Hand a funded escrow to the DAO and token factories
  token    --account A   Issue a call token signed with $ESCROW_JWT_SECRET

Environment:
  ESCROW_RPC_URL    API endpoint (default http://localhost:8080)
  ESCROW_RPC_TOKEN  bearer token for deposit, withdraw and delegate
`)
}
