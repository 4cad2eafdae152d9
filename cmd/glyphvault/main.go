package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"xdao.co/glyphvault/anchor"
	"xdao.co/glyphvault/glyph"
	"xdao.co/glyphvault/keys"
	"xdao.co/glyphvault/ledger"
	"xdao.co/glyphvault/merkle"
	"xdao.co/glyphvault/storage"
	"xdao.co/glyphvault/storage/grpcgw"
	"xdao.co/glyphvault/storage/localfs"
	"xdao.co/glyphvault/vault"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "create":
		return cmdCreate(args[1:], out, errOut)
	case "get":
		return cmdGet(args[1:], out, errOut)
	case "proof":
		return cmdProof(args[1:], out, errOut)
	case "audit":
		return cmdAudit(args[1:], out, errOut)
	case "list":
		return cmdList(args[1:], out, errOut)
	case "anchor":
		return cmdAnchor(args[1:], out, errOut)
	case "anchor-status":
		return cmdAnchorStatus(args[1:], out, errOut)
	case "verify-proof":
		return cmdVerifyProof(args[1:], out, errOut)
	case "import":
		return cmdImport(args[1:], out, errOut)
	case "export":
		return cmdExport(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "glyphvault: provenance vault and on-chain anchoring CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  glyphvault key init --name <name> [--key-hex <64hex>] [--pq] [--force]")
	fmt.Fprintln(w, "  glyphvault key list")
	fmt.Fprintln(w, "  glyphvault create --source <uri> (--data <json> | --file <path>) [--signer <name>]")
	fmt.Fprintln(w, "  glyphvault get <glyph-id>")
	fmt.Fprintln(w, "  glyphvault proof <glyph-id>")
	fmt.Fprintln(w, "  glyphvault audit <glyph-id>")
	fmt.Fprintln(w, "  glyphvault list [--source <uri>] [--limit <n>]")
	fmt.Fprintln(w, "  glyphvault anchor --rpc <url> --contract <addr> --chain-key-hex <64hex> <glyph-id> [...]")
	fmt.Fprintln(w, "  glyphvault anchor-status --rpc <url> --contract <addr> --chain-key-hex <64hex> <glyph-id> [...]")
	fmt.Fprintln(w, "  glyphvault verify-proof --root <0xhex> --leaf <glyph-id> --proof <0xhex,0xhex,...>")
	fmt.Fprintln(w, "  glyphvault import --cid <cid> --source <uri> (--gateway-dir <path> | --gateway-addr <host:port>)")
	fmt.Fprintln(w, "  glyphvault export --id <glyph-id> (--gateway-dir <path> | --gateway-addr <host:port>)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  GLYPHVAULT_DIR         vault directory (default ~/.glyphvault)")
	fmt.Fprintln(w, "  GLYPHVAULT_PASSPHRASE  vault passphrase (required; no default)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - create without --signer records a server attestation")
	fmt.Fprintln(w, "  - keys live under ~/.glyphvault/keys/<name> (0600 private key files)")
	fmt.Fprintln(w, "  - verify-proof runs fully offline")
}

// openVault builds a Vault from the environment plus optional chain and
// gateway flags. The returned cleanup closes the ledger and gateway
// connections.
func openVault(signer string, chain *anchor.Client, gw storage.Gateway) (*vault.Vault, func(), error) {
	dir := os.Getenv("GLYPHVAULT_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, err
		}
		dir = home + "/.glyphvault"
	}
	passphrase := os.Getenv("GLYPHVAULT_PASSPHRASE")
	if passphrase == "" {
		return nil, nil, fmt.Errorf("GLYPHVAULT_PASSPHRASE is required")
	}

	store, err := vault.NewStore(dir+"/blobs", passphrase)
	if err != nil {
		return nil, nil, err
	}
	led, err := ledger.Open(dir + "/ledger.db")
	if err != nil {
		return nil, nil, err
	}

	var identity glyph.SigningIdentity = glyph.ServerAttestation{}
	var factoryOpts []glyph.Option
	if signer != "" {
		ks, err := keys.NewStore(dir + "/keys")
		if err != nil {
			led.Close()
			return nil, nil, err
		}
		key, err := ks.LoadSigningKey(signer)
		if err != nil {
			led.Close()
			return nil, nil, fmt.Errorf("load signer %q: %w", signer, err)
		}
		identity = glyph.LocalKey{Key: key}
		if pub, priv, pqErr := ks.LoadPQKeypair(signer); pqErr == nil {
			factoryOpts = append(factoryOpts, glyph.WithPQCosigner(pub, priv))
		}
	}
	factory, err := glyph.NewFactory(identity, factoryOpts...)
	if err != nil {
		led.Close()
		return nil, nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		led.Close()
		return nil, nil, err
	}

	opts := []vault.VaultOption{vault.WithLogger(logger)}
	if chain != nil {
		opts = append(opts, vault.WithChainClient(chain))
	}
	if gw != nil {
		opts = append(opts, vault.WithGateway(gw))
	}
	v, err := vault.New(store, led, factory, opts...)
	if err != nil {
		led.Close()
		return nil, nil, err
	}
	cleanup := func() {
		_ = logger.Sync()
		_ = led.Close()
	}
	return v, cleanup, nil
}

func openGateway(dir, addr string) (storage.Gateway, func(), error) {
	switch {
	case dir != "" && addr != "":
		return nil, nil, fmt.Errorf("--gateway-dir and --gateway-addr are mutually exclusive")
	case dir != "":
		gw, err := localfs.New(dir)
		if err != nil {
			return nil, nil, err
		}
		return gw, func() {}, nil
	case addr != "":
		c, err := grpcgw.Dial(addr, grpcgw.DialOptions{Timeout: 10 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("one of --gateway-dir or --gateway-addr is required")
	}
}

func printJSON(out io.Writer, v any) int {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return 1
	}
	return 0
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: glyphvault key <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: init, list")
		return 2
	}

	dir := os.Getenv("GLYPHVAULT_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(errOut, "home dir: %v\n", err)
			return 1
		}
		dir = home + "/.glyphvault"
	}
	ks, err := keys.NewStore(dir + "/keys")
	if err != nil {
		fmt.Fprintf(errOut, "key store: %v\n", err)
		return 1
	}

	switch args[0] {
	case "init":
		fs := flag.NewFlagSet("key init", flag.ContinueOnError)
		fs.SetOutput(errOut)
		var name string
		var keyHex string
		var withPQ bool
		var force bool
		fs.StringVar(&name, "name", "", "Signer name")
		fs.StringVar(&keyHex, "key-hex", "", "Import an existing secp256k1 key (hex) instead of generating")
		fs.BoolVar(&withPQ, "pq", false, "Also create a Dilithium3 co-signing seed")
		fs.BoolVar(&force, "force", false, "Overwrite an existing key")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if name == "" {
			fmt.Fprintln(errOut, "usage: glyphvault key init --name <name> [--key-hex <64hex>] [--pq] [--force]")
			return 2
		}
		var addr fmt.Stringer
		var path string
		if keyHex != "" {
			addr, path, err = ks.ImportSigningKey(name, keyHex, force)
		} else {
			addr, path, err = ks.GenerateSigningKey(name, force)
		}
		if err != nil {
			fmt.Fprintf(errOut, "key init: %v\n", err)
			return 1
		}
		if withPQ {
			if _, err := ks.GeneratePQSeed(name, force); err != nil {
				fmt.Fprintf(errOut, "pq seed: %v\n", err)
				return 1
			}
		}
		fmt.Fprintf(out, "%s\t%s\n", addr, path)
		return 0
	case "list":
		entries, err := ks.List()
		if err != nil {
			fmt.Fprintf(errOut, "key list: %v\n", err)
			return 1
		}
		for _, e := range entries {
			if e.HasPQ {
				fmt.Fprintf(out, "%s\t%s\t+dilithium3\n", e.Name, e.Address)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\n", e.Name, e.Address)
		}
		return 0
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n", args[0])
		return 2
	}
}

func cmdCreate(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var source string
	var dataJSON string
	var dataFile string
	var signer string
	fs.StringVar(&source, "source", "", "Source URI recorded with the glyph")
	fs.StringVar(&dataJSON, "data", "", "Payload as an inline JSON object")
	fs.StringVar(&dataFile, "file", "", "Payload as a JSON file")
	fs.StringVar(&signer, "signer", "", "Named signing key (default: server attestation)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if source == "" || (dataJSON == "") == (dataFile == "") {
		fmt.Fprintln(errOut, "usage: glyphvault create --source <uri> (--data <json> | --file <path>) [--signer <name>]")
		return 2
	}

	raw := []byte(dataJSON)
	if dataFile != "" {
		b, err := os.ReadFile(dataFile)
		if err != nil {
			fmt.Fprintf(errOut, "read --file: %v\n", err)
			return 1
		}
		raw = b
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		fmt.Fprintf(errOut, "payload must be a JSON object: %v\n", err)
		return 1
	}

	v, cleanup, err := openVault(signer, nil, nil)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	defer cleanup()

	g, err := v.Create(context.Background(), data, source)
	if err != nil {
		fmt.Fprintf(errOut, "create: %v\n", err)
		return 1
	}
	return printJSON(out, g)
}

func cmdGet(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: glyphvault get <glyph-id>")
		return 2
	}

	v, cleanup, err := openVault("", nil, nil)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	defer cleanup()

	g, err := v.Get(context.Background(), fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "get: %v\n", err)
		return 1
	}
	return printJSON(out, g)
}

func cmdProof(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("proof", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: glyphvault proof <glyph-id>")
		return 2
	}

	v, cleanup, err := openVault("", nil, nil)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	defer cleanup()

	p, err := v.Proof(context.Background(), fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "proof: %v\n", err)
		return 1
	}
	return printJSON(out, p)
}

func cmdAudit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: glyphvault audit <glyph-id>")
		return 2
	}

	v, cleanup, err := openVault("", nil, nil)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	defer cleanup()

	p, err := v.Proof(context.Background(), fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "audit: %v\n", err)
		return 1
	}
	return printJSON(out, p.AuditTrail)
}

func cmdList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var source string
	var limit int
	fs.StringVar(&source, "source", "", "Filter by source URI")
	fs.IntVar(&limit, "limit", 50, "Maximum number of glyphs")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	v, cleanup, err := openVault("", nil, nil)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	defer cleanup()

	summaries, err := v.List(context.Background(), source, limit)
	if err != nil {
		fmt.Fprintf(errOut, "list: %v\n", err)
		return 1
	}
	return printJSON(out, summaries)
}

func chainFlags(fs *flag.FlagSet) (rpcURL, contract, keyHex *string) {
	rpcURL = fs.String("rpc", "", "Ethereum JSON-RPC endpoint")
	contract = fs.String("contract", "", "Anchoring contract address")
	keyHex = fs.String("chain-key-hex", "", "secp256k1 transaction signing key (hex)")
	return rpcURL, contract, keyHex
}

func cmdAnchor(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("anchor", flag.ContinueOnError)
	fs.SetOutput(errOut)
	rpcURL, contract, keyHex := chainFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *rpcURL == "" || *contract == "" || *keyHex == "" || fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: glyphvault anchor --rpc <url> --contract <addr> --chain-key-hex <64hex> <glyph-id> [...]")
		return 2
	}

	ctx := context.Background()
	chain, err := anchor.NewFromRPC(ctx, *rpcURL, *keyHex, *contract)
	if err != nil {
		fmt.Fprintf(errOut, "chain client: %v\n", err)
		return 1
	}

	v, cleanup, err := openVault("", chain, nil)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	defer cleanup()

	res, err := v.Anchor(ctx, fs.Args())
	if err != nil {
		fmt.Fprintf(errOut, "anchor: %v\n", err)
		return 1
	}
	return printJSON(out, res)
}

func cmdAnchorStatus(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("anchor-status", flag.ContinueOnError)
	fs.SetOutput(errOut)
	rpcURL, contract, keyHex := chainFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *rpcURL == "" || *contract == "" || *keyHex == "" || fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: glyphvault anchor-status --rpc <url> --contract <addr> --chain-key-hex <64hex> <glyph-id> [...]")
		return 2
	}

	root, err := merkle.Root(fs.Args())
	if err != nil {
		fmt.Fprintf(errOut, "batch root: %v\n", err)
		return 1
	}

	ctx := context.Background()
	chain, err := anchor.NewFromRPC(ctx, *rpcURL, *keyHex, *contract)
	if err != nil {
		fmt.Fprintf(errOut, "chain client: %v\n", err)
		return 1
	}

	anchored, at, err := chain.IsAnchored(ctx, root)
	if err != nil {
		fmt.Fprintf(errOut, "anchor-status: %v\n", err)
		return 1
	}
	status := map[string]any{
		"root":     root.Hex(),
		"anchored": anchored,
	}
	if anchored && at > 0 {
		status["anchored_at"] = at
	}
	return printJSON(out, status)
}

func cmdVerifyProof(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify-proof", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var rootHex string
	var leafID string
	var proofCSV string
	fs.StringVar(&rootHex, "root", "", "Anchored Merkle root (0x hex)")
	fs.StringVar(&leafID, "leaf", "", "Glyph id to prove inclusion for")
	fs.StringVar(&proofCSV, "proof", "", "Comma-separated sibling hashes (0x hex)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if rootHex == "" || leafID == "" {
		fmt.Fprintln(errOut, "usage: glyphvault verify-proof --root <0xhex> --leaf <glyph-id> --proof <0xhex,0xhex,...>")
		return 2
	}

	var proof []string
	if proofCSV != "" {
		proof = strings.Split(proofCSV, ",")
	}
	if anchor.VerifyInclusion(rootHex, leafID, proof) {
		fmt.Fprintln(out, "OK")
		return 0
	}
	fmt.Fprintln(errOut, "proof does not verify")
	return 1
}

func cmdImport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var cidStr string
	var source string
	var gatewayDir string
	var gatewayAddr string
	fs.StringVar(&cidStr, "cid", "", "CID of the content to import")
	fs.StringVar(&source, "source", "", "Source URI recorded with the glyph")
	fs.StringVar(&gatewayDir, "gateway-dir", "", "Filesystem gateway directory")
	fs.StringVar(&gatewayAddr, "gateway-addr", "", "gRPC gateway address")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cidStr == "" || source == "" {
		fmt.Fprintln(errOut, "usage: glyphvault import --cid <cid> --source <uri> (--gateway-dir <path> | --gateway-addr <host:port>)")
		return 2
	}
	contentID, err := cid.Decode(cidStr)
	if err != nil {
		fmt.Fprintf(errOut, "invalid cid: %v\n", err)
		return 1
	}

	gw, gwClose, err := openGateway(gatewayDir, gatewayAddr)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 2
	}
	defer gwClose()

	v, cleanup, err := openVault("", nil, gw)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	defer cleanup()

	g, err := v.ImportFromGateway(context.Background(), contentID, source)
	if err != nil {
		fmt.Fprintf(errOut, "import: %v\n", err)
		return 1
	}
	return printJSON(out, g)
}

func cmdExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var id string
	var gatewayDir string
	var gatewayAddr string
	fs.StringVar(&id, "id", "", "Glyph id to export")
	fs.StringVar(&gatewayDir, "gateway-dir", "", "Filesystem gateway directory")
	fs.StringVar(&gatewayAddr, "gateway-addr", "", "gRPC gateway address")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if id == "" {
		fmt.Fprintln(errOut, "usage: glyphvault export --id <glyph-id> (--gateway-dir <path> | --gateway-addr <host:port>)")
		return 2
	}

	gw, gwClose, err := openGateway(gatewayDir, gatewayAddr)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 2
	}
	defer gwClose()

	v, cleanup, err := openVault("", nil, gw)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	defer cleanup()

	contentID, err := v.ExportToGateway(context.Background(), id)
	if err != nil {
		fmt.Fprintf(errOut, "export: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, contentID.String())
	return 0
}
