package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"tokensend/internal/health"
	"tokensend/internal/perf"
	"tokensend/internal/server"
	"tokensend/internal/transfer"
)

var errUsage = errors.New("invalid usage")

// run executes a one-shot command and writes its result to w
func run(ctx context.Context, srv *server.Server, command string, args []string, w io.Writer) error {
	svc := srv.Transfer()

	switch command {
	case "chain":
		id, err := svc.ChainID(ctx)
		if err != nil {
			return err
		}
		head, err := svc.BlockNumber(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "chain id: %d\nhead block: %d\n", id, head)

	case "balance", "nonce":
		fs := flag.NewFlagSet(command, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		block := fs.String("block", "latest", "block number or tag")
		address, err := singleArg(fs, args, "address")
		if err != nil {
			return err
		}
		if command == "balance" {
			balance, err := svc.Balance(ctx, address, *block)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, balance.String())
			return nil
		}
		nonce, err := svc.Nonce(ctx, address, *block)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, nonce)

	case "gasprice":
		price, err := svc.GasPrice(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, price.String())

	case "send":
		fs := flag.NewFlagSet(command, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		wait := fs.Bool("wait", false, "wait until the transaction is mined")
		rawTx, err := singleArg(fs, args, "raw transaction")
		if err != nil {
			return err
		}
		hash, err := svc.SendRawTransaction(ctx, rawTx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, hash)
		if !*wait {
			return nil
		}
		receipt, err := svc.WaitForReceipt(ctx, hash)
		if receipt != nil {
			if encErr := writeJSON(w, receipt); encErr != nil {
				return encErr
			}
		}
		return err

	case "receipt":
		fs := flag.NewFlagSet(command, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		hash, err := singleArg(fs, args, "transaction hash")
		if err != nil {
			return err
		}
		receipt, ok, err := svc.Receipt(ctx, hash)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(w, "pending")
			return nil
		}
		return writeJSON(w, receipt)

	case "probe":
		fs := flag.NewFlagSet(command, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		n := fs.Int("n", 10, "number of probes")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if *n <= 0 {
			return fmt.Errorf("%w: -n must be positive", errUsage)
		}
		return probe(ctx, svc, *n, w)

	case "stats":
		return writeJSON(w, stats(ctx, srv))

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	return nil
}

// singleArg parses fs and returns its only positional argument
func singleArg(fs *flag.FlagSet, args []string, name string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%w: %s requires exactly one %s", errUsage, fs.Name(), name)
	}
	return fs.Arg(0), nil
}

func probe(ctx context.Context, svc *transfer.Service, n int, w io.Writer) error {
	failed := 0
	for i, r := range svc.ProbeBlockNumbers(ctx, n) {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "probe %d: error: %v\n", i, r.Err)
			continue
		}
		fmt.Fprintf(w, "probe %d: block %d\n", i, r.Value)
	}
	if failed == n {
		return fmt.Errorf("all %d probes failed", n)
	}
	return nil
}

type statsReport struct {
	Endpoints []endpointReport `json:"endpoints"`
	Stats     perf.Snapshot    `json:"stats"`
}

type endpointReport struct {
	health.ProbeResult
	Error string `json:"error,omitempty"`
}

// stats probes every endpoint directly, then reports the layer snapshot
func stats(ctx context.Context, srv *server.Server) statsReport {
	probes := srv.Checker().Probe(ctx)

	report := statsReport{
		Endpoints: make([]endpointReport, 0, len(probes)),
		Stats:     srv.Layer().Snapshot(),
	}
	for _, p := range probes {
		r := endpointReport{ProbeResult: p}
		if p.Err != nil {
			r.Error = p.Err.Error()
		}
		report.Endpoints = append(report.Endpoints, r)
	}
	return report
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
