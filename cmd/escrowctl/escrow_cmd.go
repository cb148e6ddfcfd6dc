package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"poolescrow/cmd/internal/secret"
	"poolescrow/crypto"
	"poolescrow/native/escrow"
	"poolescrow/rpc"
)

func runStatus(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("status", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, err := c.get("/escrow")
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runDeposits(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deposits", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path := "/escrow/deposits"
	switch fs.NArg() {
	case 0:
	case 1:
		account := strings.TrimSpace(fs.Arg(0))
		if _, err := crypto.ParseAccount(account); err != nil {
			return printError(stderr, fmt.Sprintf("invalid account %q", account))
		}
		path += "/" + account
	default:
		return printError(stderr, "expected at most one account")
	}
	result, err := c.get(path)
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runEvents(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	eventType := fs.String("type", "", "only list events of this type")
	limit := fs.Int("limit", 0, "maximum number of events")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *limit < 0 {
		return printError(stderr, "--limit must be positive")
	}
	query := url.Values{}
	if *eventType != "" {
		query.Set("type", *eventType)
	}
	if *limit > 0 {
		query.Set("limit", strconv.Itoa(*limit))
	}
	path := "/escrow/events"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	result, err := c.get(path)
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runDeposit(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deposit", stderr)
	amount := fs.String("amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	normalized, err := normalizeAmount(*amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return submit(c, rpc.CallRequest{Method: escrow.MethodDeposit, Attached: normalized}, stdout, stderr)
}

func runWithdraw(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("withdraw", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return submit(c, rpc.CallRequest{Method: escrow.MethodWithdraw}, stdout, stderr)
}

func runDelegate(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("delegate", stderr)
	name := fs.String("name", "", "name of the DAO and token to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*name) == "" {
		return printError(stderr, "--name is required")
	}
	payload, err := json.Marshal(escrow.DelegateFundsArgs{DAOName: *name})
	if err != nil {
		return printError(stderr, err.Error())
	}
	return submit(c, rpc.CallRequest{Method: escrow.MethodDelegateFunds, Args: payload}, stdout, stderr)
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	account := fs.String("account", "", "bech32 account the token acts for")
	issuer := fs.String("issuer", "", "issuer claim; must match RPC.JWTIssuer")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	secretEnv := fs.String("secret-env", envSecret, "environment variable holding the signing secret")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := crypto.ParseAccount(strings.TrimSpace(*account))
	if err != nil {
		return printError(stderr, "--account must be a bech32 account")
	}
	if *ttl <= 0 {
		return printError(stderr, "--ttl must be positive")
	}
	signingKey, err := secret.NewSource(*secretEnv, "token signing secret").Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	token, err := rpc.NewAuthenticator(signingKey, *issuer).Issue(addr, *ttl)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func submit(c *client, req rpc.CallRequest, stdout, stderr io.Writer) int {
	result, err := c.call(req)
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage())
	}
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func writeResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err == nil {
		result = bytes.TrimRight(pretty.Bytes(), "\n")
	}
	fmt.Fprintf(w, "%s\n", result)
}

// normalizeAmount converts decimal, underscore-separated or scientific
// notation (15e24, 1.5e25) into an integer string of base units.
func normalizeAmount(value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("--amount is required")
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expValue, err := strconv.ParseInt(strings.TrimSpace(trimmed[idx+1:]), 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation in --amount")
		}
		exponent = int(expValue)
	}
	base = strings.TrimPrefix(base, "+")
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("--amount must be positive")
	}
	integerPart, fractionalPart, _ := strings.Cut(base, ".")
	if strings.Contains(fractionalPart, ".") {
		return "", fmt.Errorf("invalid amount format")
	}
	digits := integerPart + fractionalPart
	if digits == "" || !isDigits(digits) {
		return "", fmt.Errorf("invalid amount format")
	}
	digits = strings.TrimLeft(digits, "0")
	fracLen := len(fractionalPart)
	for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	shift := exponent - fracLen
	if shift < 0 {
		return "", fmt.Errorf("--amount must be a whole number of base units")
	}
	if digits == "" {
		return "", fmt.Errorf("--amount must be positive")
	}
	return digits + strings.Repeat("0", shift), nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
