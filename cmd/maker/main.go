package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"poly-gomaker/internal/clob"
	"poly-gomaker/internal/dotenv"
	"poly-gomaker/internal/jsonl"
	"poly-gomaker/internal/maker"
	"poly-gomaker/internal/marketws"
	"poly-gomaker/internal/paper"
)

const defaultOutFile = "./out/maker.jsonl"

type args struct {
	tokenID string
	mode    string // buy | sell | round
	size    decimal.Decimal

	profitTargetBps int64
	floorOverride   decimal.Decimal
	hasFloor        bool

	pollInterval time.Duration
	minNotional  decimal.Decimal
	minOrderSize decimal.Decimal
	dust         decimal.Decimal

	source     string // ws | poll
	wsURL      string
	staleAfter time.Duration

	sellMode          string // follow | aggressive
	aggressiveStep    decimal.Decimal
	aggressiveTimeout time.Duration

	clobHost      string
	privateKeyHex string
	funder        common.Address
	signatureType int
	apiKey        string
	apiSecret     string
	apiPassphrase string
	apiNonce      uint64
	useServerTime bool
	enableTrading bool

	outFile string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	parsed, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	execLog := jsonl.New(parsed.outFile)
	if execLog != nil {
		log.Printf("Execution log: %s (JSONL)", parsed.outFile)
		defer func() {
			if err := execLog.Close(); err != nil {
				log.Printf("[warn] execution log close: %v", err)
			}
		}()
	}

	log.Printf("Maker execution (cancel-and-replace, maker-only) → Polymarket CLOB")
	log.Printf("Token: %s", parsed.tokenID)
	log.Printf("Mode: %s", parsed.mode)
	log.Printf("Size: %s", parsed.size)
	log.Printf("Poll interval: %s", parsed.pollInterval)
	log.Printf("Price source: %s", parsed.source)
	log.Printf("Dry-run: %v", !parsed.enableTrading)

	pk, ephemeral, err := resolvePrivateKey(parsed.privateKeyHex, parsed.enableTrading)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if ephemeral {
		log.Printf("[warn] no private key configured; using an ephemeral key (dry-run only)")
	}

	clobClient, err := clob.NewClient(parsed.clobHost, 137, pk, parsed.funder, parsed.signatureType)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Printf("Shutting down...")
		cancel()
	}()

	if parsed.apiKey != "" && parsed.apiSecret != "" && parsed.apiPassphrase != "" {
		clobClient.SetApiCreds(clob.ApiKeyCreds{Key: parsed.apiKey, Secret: parsed.apiSecret, Passphrase: parsed.apiPassphrase})
	} else if parsed.enableTrading {
		creds, err := clobClient.CreateOrDeriveApiKey(ctx, parsed.apiNonce, parsed.useServerTime)
		if err != nil {
			log.Fatalf("[fatal] failed to create/derive api key: %v", err)
		}
		clobClient.SetApiCreds(creds)
		log.Printf("CLOB API creds ready (key=%s…)", safePrefix(creds.Key, 8))
	}

	restGate := clob.NewGateway(clobClient, parsed.useServerTime)

	var book maker.BookSource = restGate
	if parsed.source == "ws" {
		feed := marketws.NewFeed(parsed.wsURL, []string{parsed.tokenID}, restGate, parsed.staleAfter, marketws.Options{})
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[warn] market feed stopped: %v", err)
			}
		}()
		book = feed
	}

	var gate maker.OrderGateway = restGate
	if !parsed.enableTrading {
		gate = paper.NewGateway(book)
	}

	policy := maker.DefaultPolicy()

	if err := run(ctx, parsed, policy, book, gate, execLog); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("Stopped.")
			return
		}
		log.Fatalf("[fatal] %v", err)
	}
}

func run(ctx context.Context, parsed args, policy maker.Policy, book maker.BookSource, gate maker.OrderGateway, execLog *jsonl.Writer) error {
	acquirer := &maker.Acquirer{
		Book:         book,
		Gate:         gate,
		Policy:       policy,
		MinNotional:  parsed.minNotional,
		MinOrderSize: parsed.minOrderSize,
		PollInterval: parsed.pollInterval,
		Events:       execLog,
	}
	liquidator := &maker.Liquidator{
		Book:          book,
		Gate:          gate,
		Policy:        policy,
		MinOrderSize:  parsed.minOrderSize,
		DustThreshold: parsed.dust,
		PollInterval:  parsed.pollInterval,
		Events:        execLog,
	}
	if parsed.sellMode == "aggressive" {
		liquidator.AggressiveStep = parsed.aggressiveStep
		liquidator.AggressiveTimeout = parsed.aggressiveTimeout
	}

	switch parsed.mode {
	case "buy":
		sum, err := acquirer.Acquire(ctx, parsed.tokenID, parsed.size)
		reportSummary("buy", sum)
		return err

	case "sell":
		if !parsed.hasFloor {
			return fmt.Errorf("sell mode requires --floor")
		}
		sum, err := liquidator.Liquidate(ctx, parsed.tokenID, parsed.size, parsed.floorOverride)
		reportSummary("sell", sum)
		return err

	case "round":
		buySum, err := acquirer.Acquire(ctx, parsed.tokenID, parsed.size)
		reportSummary("buy", buySum)
		if err != nil {
			return err
		}
		if buySum.Filled.Sign() <= 0 {
			log.Printf("Nothing acquired; skipping liquidation")
			return nil
		}

		floor := parsed.floorOverride
		if !parsed.hasFloor {
			floor = deriveFloor(buySum.AvgPrice, parsed.profitTargetBps, policy)
		}
		log.Printf("Liquidation floor: %s (avg entry %s, target %d bps)", floor, buySum.AvgPrice, parsed.profitTargetBps)

		sellSum, err := liquidator.Liquidate(ctx, parsed.tokenID, buySum.Filled, floor)
		reportSummary("sell", sellSum)
		return err

	default:
		return fmt.Errorf("unsupported mode %q (use buy, sell, or round)", parsed.mode)
	}
}

// deriveFloor lifts the average entry price by the profit target and rounds
// up at sell price precision, so the floor is never below the target.
func deriveFloor(avgEntry decimal.Decimal, targetBps int64, policy maker.Policy) decimal.Decimal {
	factor := decimal.NewFromInt(10_000 + targetBps).Div(decimal.NewFromInt(10_000))
	return maker.RoundUp(avgEntry.Mul(factor), policy.SellPriceDigits)
}

func reportSummary(leg string, sum maker.FillSummary) {
	avg := "-"
	if sum.AvgPrice.Sign() > 0 {
		avg = sum.AvgPrice.StringFixed(4)
	}
	log.Printf("%s result: status=%s filled=%s avg=%s remaining=%s", leg, sum.Status, sum.Filled, avg, sum.Remaining)
}

func parseArgs() (args, error) {
	var tokenFlag string
	var modeFlag string
	var sizeFlag string

	var profitTargetFlag int64
	var floorFlag string

	var pollFlag time.Duration
	var minNotionalFlag string
	var minOrderSizeFlag string
	var dustFlag string

	var sourceFlag string
	var wsURLFlag string
	var staleAfterFlag time.Duration

	var sellModeFlag string
	var aggressiveStepFlag string
	var aggressiveTimeoutFlag time.Duration

	var clobHostFlag string
	var privateKeyFlag string
	var funderFlag string
	signatureTypeDefault := 0
	if env := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_SIGNATURE_TYPE"), os.Getenv("SIGNATURE_TYPE"))); env != "" {
		v, err := strconv.Atoi(env)
		if err != nil {
			return args{}, fmt.Errorf("invalid signature type env %q: %w", env, err)
		}
		signatureTypeDefault = v
	}
	var signatureTypeFlag int

	var apiKeyFlag string
	var apiSecretFlag string
	var apiPassphraseFlag string
	var apiNonceFlag uint64
	var useServerTimeFlag bool
	var enableTradingFlag bool

	enableTradingDefault := false
	if env := strings.TrimSpace(os.Getenv("ENABLE_TRADING")); env != "" {
		v, err := strconv.ParseBool(env)
		if err != nil {
			return args{}, fmt.Errorf("invalid ENABLE_TRADING %q: %w", env, err)
		}
		enableTradingDefault = v
	}

	var outFlag string

	flag.StringVar(&tokenFlag, "token", "", "CLOB token ID (or TOKEN_ID env)")
	flag.StringVar(&modeFlag, "mode", "round", "Execution mode: buy, sell, or round (buy then sell)")
	flag.StringVar(&sizeFlag, "size", "", "Target size in shares (buy/round) or position to unwind (sell)")

	flag.Int64Var(&profitTargetFlag, "profit-target-bps", 300, "Floor above avg entry in basis points (round mode)")
	flag.StringVar(&floorFlag, "floor", "", "Explicit floor price for the sell leg (overrides profit target)")

	flag.DurationVar(&pollFlag, "poll", 10*time.Second, "Order poll / reprice interval")
	flag.StringVar(&minNotionalFlag, "min-notional", "1", "Venue minimum quote amount per resting order (USDC)")
	flag.StringVar(&minOrderSizeFlag, "min-order-size", "5", "Venue minimum resting size (shares)")
	flag.StringVar(&dustFlag, "dust", "0.01", "Sell remainder treated as fully liquidated")

	flag.StringVar(&sourceFlag, "source", "ws", "Top-of-book source: ws (push with REST fallback) or poll (REST only)")
	flag.StringVar(&wsURLFlag, "ws-url", "", "Live-data WebSocket URL (default wss://ws-live-data.polymarket.com)")
	flag.DurationVar(&staleAfterFlag, "stale-after", marketws.DefaultStaleAfter, "Age after which the push book falls back to REST")

	flag.StringVar(&sellModeFlag, "sell-mode", "follow", "Sell behavior: follow (track the ask) or aggressive (step toward the floor when unfilled)")
	flag.StringVar(&aggressiveStepFlag, "aggressive-step", "0.01", "Price step toward the floor per timeout (aggressive sell mode)")
	flag.DurationVar(&aggressiveTimeoutFlag, "aggressive-timeout", 30*time.Second, "Unfilled time before stepping down (aggressive sell mode)")

	flag.StringVar(&clobHostFlag, "clob-url", "", "CLOB API base URL (default https://clob.polymarket.com)")
	flag.StringVar(&privateKeyFlag, "private-key", "", "Private key hex (0x...) (or PRIVATE_KEY env)")
	flag.StringVar(&funderFlag, "funder", "", "Funder address (proxy wallet) (default: signer)")
	flag.IntVar(&signatureTypeFlag, "signature-type", signatureTypeDefault, "Signature type: 0=EOA, 1=POLY_PROXY, 2=POLY_GNOSIS_SAFE")

	flag.StringVar(&apiKeyFlag, "api-key", "", "CLOB API key (optional; otherwise derived if trading enabled)")
	flag.StringVar(&apiSecretFlag, "api-secret", "", "CLOB API secret (optional)")
	flag.StringVar(&apiPassphraseFlag, "api-passphrase", "", "CLOB API passphrase (optional)")
	flag.Uint64Var(&apiNonceFlag, "api-nonce", 0, "Nonce for API key derive/create")
	flag.BoolVar(&useServerTimeFlag, "use-server-time", true, "Use /time for signed requests")
	flag.BoolVar(&enableTradingFlag, "enable-trading", enableTradingDefault, "Actually place orders (default is dry-run against the live book)")

	flag.StringVar(&outFlag, "out", "", "Optional output file path (JSONL; posts, cancels, fills, summaries)")

	flag.Parse()

	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = strings.TrimSpace(firstNonEmpty(os.Getenv("TOKEN_ID"), os.Getenv("CLOB_TOKEN_ID")))
	}
	if token == "" {
		return args{}, fmt.Errorf("token required via --token or TOKEN_ID")
	}

	mode := strings.ToLower(strings.TrimSpace(modeFlag))
	switch mode {
	case "buy", "sell", "round":
	default:
		return args{}, fmt.Errorf("unsupported --mode %q (use buy, sell, or round)", modeFlag)
	}

	size, err := parsePositiveDecimal(sizeFlag, "--size")
	if err != nil {
		return args{}, err
	}

	var floor decimal.Decimal
	hasFloor := false
	if strings.TrimSpace(floorFlag) != "" {
		floor, err = parsePositiveDecimal(floorFlag, "--floor")
		if err != nil {
			return args{}, err
		}
		hasFloor = true
	}
	if profitTargetFlag < 0 {
		return args{}, fmt.Errorf("--profit-target-bps must be >= 0")
	}

	if pollFlag <= 0 {
		return args{}, fmt.Errorf("--poll must be > 0")
	}

	minNotional, err := parsePositiveDecimal(minNotionalFlag, "--min-notional")
	if err != nil {
		return args{}, err
	}
	minOrderSize, err := parsePositiveDecimal(minOrderSizeFlag, "--min-order-size")
	if err != nil {
		return args{}, err
	}
	dust, err := parsePositiveDecimal(dustFlag, "--dust")
	if err != nil {
		return args{}, err
	}

	source := strings.ToLower(strings.TrimSpace(sourceFlag))
	if source != "ws" && source != "poll" {
		return args{}, fmt.Errorf("unsupported --source %q (use ws or poll)", sourceFlag)
	}

	sellMode := strings.ToLower(strings.TrimSpace(sellModeFlag))
	if sellMode != "follow" && sellMode != "aggressive" {
		return args{}, fmt.Errorf("unsupported --sell-mode %q (use follow or aggressive)", sellModeFlag)
	}
	aggressiveStep, err := parsePositiveDecimal(aggressiveStepFlag, "--aggressive-step")
	if err != nil {
		return args{}, err
	}
	if aggressiveTimeoutFlag <= 0 {
		return args{}, fmt.Errorf("--aggressive-timeout must be > 0")
	}

	pkHex := strings.TrimSpace(privateKeyFlag)
	if pkHex == "" {
		pkHex = firstNonEmpty(os.Getenv("CLOB_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY"))
	}

	host := strings.TrimSpace(clobHostFlag)
	if host == "" {
		host = firstNonEmpty(os.Getenv("CLOB_URL"), "https://clob.polymarket.com")
	}

	var funder common.Address
	if strings.TrimSpace(funderFlag) != "" {
		if !common.IsHexAddress(funderFlag) {
			return args{}, fmt.Errorf("invalid funder: %q", funderFlag)
		}
		funder = common.HexToAddress(funderFlag)
	} else if envFunder := firstNonEmpty(os.Getenv("CLOB_FUNDER"), os.Getenv("FUNDER")); envFunder != "" {
		if !common.IsHexAddress(envFunder) {
			return args{}, fmt.Errorf("invalid funder env: %q", envFunder)
		}
		funder = common.HexToAddress(envFunder)
	}

	apiKey := strings.TrimSpace(apiKeyFlag)
	if apiKey == "" {
		apiKey = firstNonEmpty(os.Getenv("CLOB_API_KEY"), os.Getenv("API_KEY"))
	}
	apiSecret := strings.TrimSpace(apiSecretFlag)
	if apiSecret == "" {
		apiSecret = firstNonEmpty(os.Getenv("CLOB_SECRET"), os.Getenv("SECRET"))
	}
	apiPass := strings.TrimSpace(apiPassphraseFlag)
	if apiPass == "" {
		apiPass = firstNonEmpty(os.Getenv("CLOB_PASSPHRASE"), os.Getenv("PASSPHRASE"))
	}

	outFile := strings.TrimSpace(outFlag)
	if outFile == "" {
		outFile = strings.TrimSpace(os.Getenv("MAKER_OUT_FILE"))
	}
	if outFile == "" {
		outFile = defaultOutFile
	}

	return args{
		tokenID:           token,
		mode:              mode,
		size:              size,
		profitTargetBps:   profitTargetFlag,
		floorOverride:     floor,
		hasFloor:          hasFloor,
		pollInterval:      pollFlag,
		minNotional:       minNotional,
		minOrderSize:      minOrderSize,
		dust:              dust,
		source:            source,
		wsURL:             strings.TrimSpace(wsURLFlag),
		staleAfter:        staleAfterFlag,
		sellMode:          sellMode,
		aggressiveStep:    aggressiveStep,
		aggressiveTimeout: aggressiveTimeoutFlag,
		clobHost:          host,
		privateKeyHex:     pkHex,
		funder:            funder,
		signatureType:     signatureTypeFlag,
		apiKey:            apiKey,
		apiSecret:         apiSecret,
		apiPassphrase:     apiPass,
		apiNonce:          apiNonceFlag,
		useServerTime:     useServerTimeFlag,
		enableTrading:     enableTradingFlag,
		outFile:           outFile,
	}, nil
}

func parsePositiveDecimal(raw, name string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%s required", name)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%s must be > 0, got %s", name, d)
	}
	return d, nil
}

// resolvePrivateKey returns the configured key, or an ephemeral one for
// dry-runs where nothing is ever signed against the venue.
func resolvePrivateKey(pkHex string, enableTrading bool) (*ecdsa.PrivateKey, bool, error) {
	if strings.TrimSpace(pkHex) != "" {
		pk, err := parsePrivateKey(pkHex)
		return pk, false, err
	}
	if enableTrading {
		return nil, false, fmt.Errorf("private key required when trading is enabled (set --private-key or PRIVATE_KEY)")
	}
	pk, err := crypto.GenerateKey()
	if err != nil {
		return nil, false, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return pk, true, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, fmt.Errorf("private key missing")
	}
	hexKey = strings.TrimPrefix(hexKey, "0x")
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return pk, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func safePrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
