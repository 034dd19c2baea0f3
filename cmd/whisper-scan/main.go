// Command whisper-scan is a runnable example of the client side of the
// C4 protocol: it builds a wallet from a scan secret and spend pubkey,
// checks server status, and scans a height range for owned outputs.
// Ported from the shape of original_source/whisper-client's
// scan_example.rs, in the idiom of this module's client package.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/jessevdk/go-flags"

	"github.com/SakshamSinghal20/Whisper/client"
	"github.com/SakshamSinghal20/Whisper/client/rpcresolver"
	"github.com/SakshamSinghal20/Whisper/internal/spcrypto"
	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

type config struct {
	ServerURL   string        `long:"server" env:"WHISPER_SERVER" description:"whisper-api base URL" default:"http://localhost:8080"`
	ScanSecret  string        `long:"scan-secret" env:"WHISPER_SCAN_SECRET" description:"32-byte hex scan secret" required:"true"`
	SpendPubkey string        `long:"spend-pubkey" env:"WHISPER_SPEND_PUBKEY" description:"32-byte hex x-only spend pubkey" required:"true"`
	MaxLabel    uint32        `long:"max-label" env:"WHISPER_MAX_LABEL" description:"highest label index to scan for" default:"0"`
	StartHeight uint32        `long:"start-height" description:"first block height to scan" required:"true"`
	EndHeight   uint32        `long:"end-height" description:"last block height to scan" required:"true"`
	SeedTxID    string        `long:"seed-txid" env:"WHISPER_SEED_TXID" description:"txid of a known candidate transaction whose inputs seed the fingerprint set" required:"true"`
	RPCURL      string        `long:"rpc-url" env:"WHISPER_RPC_URL" description:"Bitcoin RPC URL used to resolve candidate inputs" default:"http://127.0.0.1:8332"`
	RPCUser     string        `long:"rpc-user" env:"WHISPER_RPC_USER" description:"Bitcoin RPC username"`
	RPCPassword string        `long:"rpc-password" env:"WHISPER_RPC_PASSWORD" description:"Bitcoin RPC password"`
	Timeout     time.Duration `long:"timeout" description:"overall scan timeout" default:"60s"`
}

func main() {
	cfg := config{}
	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, "whisper-scan:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "whisper-scan:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	wallet, err := buildWallet(cfg.ScanSecret, cfg.SpendPubkey, cfg.MaxLabel)
	if err != nil {
		return fmt.Errorf("build wallet: %w", err)
	}

	c := client.New(cfg.ServerURL, nil)
	status, err := c.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("check server status: %w", err)
	}
	fmt.Printf("server network: %s, tip height: %d\n", status.Network, status.TipHeight)

	rpc, err := newRPCClient(cfg.RPCURL, cfg.RPCUser, cfg.RPCPassword)
	if err != nil {
		return fmt.Errorf("init rpc client: %w", err)
	}
	defer func() {
		rpc.Shutdown()
		rpc.WaitForShutdown()
	}()
	resolver := rpcresolver.New(rpc, noopRPCMetrics{})

	seedTxID, err := decodeTxID(cfg.SeedTxID)
	if err != nil {
		return fmt.Errorf("decode seed txid: %w", err)
	}
	seedInputs, err := resolver.ResolveInputs(ctx, seedTxID)
	if err != nil {
		return fmt.Errorf("resolve seed transaction inputs: %w", err)
	}

	scanPubkey := wallet.Scan.Public.SerializeCompressed()
	fingerprints, err := wallet.BuildFingerprints(seedInputs)
	if err != nil {
		return fmt.Errorf("build fingerprints: %w", err)
	}

	candidates, err := c.Scan(ctx, client.ScanRequest{
		ScanPubkey:   scanPubkey,
		StartHeight:  cfg.StartHeight,
		EndHeight:    cfg.EndHeight,
		Fingerprints: fingerprints,
	})
	if err != nil {
		return fmt.Errorf("scan request: %w", err)
	}
	fmt.Printf("server returned %d raw candidate(s)\n", len(candidates))

	inputsByTx, err := client.ResolveAll(ctx, resolver, candidates)
	if err != nil {
		return fmt.Errorf("resolve candidate inputs: %w", err)
	}

	results, err := wallet.Verify(candidates, inputsByTx)
	if err != nil {
		return fmt.Errorf("verify candidates: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("no payments found in this range")
		return nil
	}
	for i, r := range results {
		fmt.Printf("payment #%d: txid=%s vout=%d amount=%d label=%d tweak=%s\n",
			i+1, hex.EncodeToString(r.TxID[:]), r.Vout, r.Amount, r.Label, hex.EncodeToString(r.SpendTweak[:]))
	}
	return nil
}

func decodeTxID(hexStr string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(hexStr)
	if err != nil || len(raw) != 32 {
		return out, whisperr.New(whisperr.BadRequest, "seed txid must be 32 bytes hex")
	}
	copy(out[:], raw)
	return out, nil
}

func buildWallet(scanSecretHex, spendPubkeyHex string, maxLabel uint32) (*client.Wallet, error) {
	scanBytes, err := hex.DecodeString(scanSecretHex)
	if err != nil || len(scanBytes) != 32 {
		return nil, whisperr.New(whisperr.BadCrypto, "scan secret must be 32 bytes hex")
	}
	var scanArr [32]byte
	copy(scanArr[:], scanBytes)
	scanScalar, err := spcrypto.ScalarFromBytes(scanArr)
	if err != nil {
		return nil, err
	}
	scan := spcrypto.NewScanKeypair(scanScalar)

	spendBytes, err := hex.DecodeString(spendPubkeyHex)
	if err != nil || len(spendBytes) != 32 {
		return nil, whisperr.New(whisperr.BadCrypto, "spend pubkey must be 32 bytes x-only hex")
	}
	var spendArr spcrypto.XOnlyKey
	copy(spendArr[:], spendBytes)
	spendPoint, err := spcrypto.PointFromXOnly(spendArr)
	if err != nil {
		return nil, err
	}

	return client.NewWallet(scan, spcrypto.SpendKey{Public: spendPoint}, maxLabel)
}

func newRPCClient(rawURL, user, password string) (*rpcclient.Client, error) {
	return rpcclient.New(&rpcclient.ConnConfig{
		Host:         trimScheme(rawURL),
		User:         user,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
}

func trimScheme(rawURL string) string {
	const prefix = "http://"
	if len(rawURL) > len(prefix) && rawURL[:len(prefix)] == prefix {
		return rawURL[len(prefix):]
	}
	return rawURL
}

type noopRPCMetrics struct{}

func (noopRPCMetrics) Observe(string, error, time.Time) {}
