package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokensend/internal/config"
	"tokensend/internal/jsonrpc"
	"tokensend/internal/server"
)

const (
	testAddress = "0x00000000000000000000000000000000000000aa"
	testHash    = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		results := map[string]string{
			"eth_chainId":               `"0x1"`,
			"eth_blockNumber":           `"0x64"`,
			"eth_getBalance":            `"0xde0b6b3a7640000"`,
			"eth_getTransactionCount":   `"0x7"`,
			"eth_gasPrice":              `"0x3b9aca00"`,
			"eth_sendRawTransaction":    `"` + testHash + `"`,
			"eth_getTransactionReceipt": `{"transactionHash":"` + testHash + `","blockNumber":"0x64","status":"0x1"}`,
		}
		result, ok := results[req.Method]
		if !ok {
			result = "null"
		}
		data, _ := jsonrpc.NewResponseRaw(req.ID, json.RawMessage(result)).Bytes()
		w.Write(data)
	}))
	t.Cleanup(node.Close)

	cfg, err := config.Parse([]byte(`{"endpoints":[{"name":"local","rpcUrl":"`+node.URL+`"}],"batchTimeout":5}`), ".json")
	require.NoError(t, err)
	srv, err := server.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv
}

func TestRun_Commands(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name     string
		command  string
		args     []string
		expected string
	}{
		{"chain", "chain", nil, "chain id: 1\nhead block: 100\n"},
		{"balance", "balance", []string{testAddress}, "1000000000000000000\n"},
		{"nonce at block", "nonce", []string{"-block", "0x10", testAddress}, "7\n"},
		{"gas price", "gasprice", nil, "1000000000\n"},
		{"send", "send", []string{"0xf86c"}, testHash + "\n"},
		{"probe", "probe", []string{"-n", "2"}, "probe 0: block 100\nprobe 1: block 100\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, run(context.Background(), srv, tt.command, tt.args, &out))
			assert.Equal(t, tt.expected, out.String())
		})
	}
}

func TestRun_ReceiptAndWait(t *testing.T) {
	srv := newTestServer(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), srv, "receipt", []string{testHash}, &out))
	var receipt jsonrpc.Receipt
	require.NoError(t, json.Unmarshal(out.Bytes(), &receipt))
	assert.True(t, receipt.Succeeded())

	out.Reset()
	require.NoError(t, run(context.Background(), srv, "send", []string{"-wait", "0xf86c"}, &out))
	assert.Contains(t, out.String(), `"status": "0x1"`)
}

func TestRun_Stats(t *testing.T) {
	srv := newTestServer(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), srv, "chain", nil, &out))

	out.Reset()
	require.NoError(t, run(context.Background(), srv, "stats", nil, &out))

	var report statsReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Endpoints, 1)
	assert.Equal(t, "local", report.Endpoints[0].Endpoint)
	assert.Equal(t, uint64(100), report.Endpoints[0].Block)
	assert.Empty(t, report.Endpoints[0].Error)
	assert.Equal(t, uint64(2), report.Stats.Monitor.Requests.Successful)
}

func TestRun_UsageErrors(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		command string
		args    []string
	}{
		{"unknown", nil},
		{"balance", nil},
		{"receipt", []string{testHash, testHash}},
		{"probe", []string{"-n", "0"}},
		{"send", []string{"-bogus"}},
	}
	for _, c := range cases {
		err := run(context.Background(), srv, c.command, c.args, &bytes.Buffer{})
		assert.ErrorIs(t, err, errUsage, c.command)
	}
}
