package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/redis/go-redis/v9"

	"github.com/runt18/privacyidea"
)

type tokenState struct {
	owner   string
	id      string
	secret  string
	counter uint64
	mu      sync.Mutex
}

// memoryDeliverer captures challenge responses so the respond phase can
// answer its own challenges.
type memoryDeliverer struct {
	responses sync.Map // transaction ID -> plaintext response
}

func (d *memoryDeliverer) Deliver(_ context.Context, ch privacyidea.Challenge, response string) error {
	d.responses.Store(ch.TransactionID, response)
	return nil
}

func main() {
	var (
		tokens      = flag.Int("tokens", 10000, "number of HOTP tokens to enroll")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (authenticate + challenge)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		configPath  = flag.String("config", "", "optional engine config file")
	)
	flag.Parse()

	if *tokens <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "tokens, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	cfg := privacyidea.DefaultConfig()
	if *configPath != "" {
		loaded, err := privacyidea.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.Audit.Enabled = false

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	deliverer := &memoryDeliverer{}
	engine, err := privacyidea.New().
		WithConfig(cfg).
		WithRedis(client).
		WithDeliverer(deliverer).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]tokenState, *tokens)
	challengeIDs := make([]string, *tokens)
	fmt.Printf("enrolling %d tokens...\n", *tokens)
	startSeed := time.Now()
	for i := 0; i < *tokens; i++ {
		owner := fmt.Sprintf("user-%d", i)

		enr, err := engine.EnrollToken(ctx, privacyidea.EnrollRequest{
			Owner: owner,
			Kind:  privacyidea.KindHOTP,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "enroll failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = tokenState{owner: owner, id: enr.TokenID, secret: enr.Secret}

		chEnr, err := engine.EnrollToken(ctx, privacyidea.EnrollRequest{
			Owner: owner,
			Kind:  privacyidea.KindChallenge,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "enroll failed: %v\n", err)
			os.Exit(1)
		}
		challengeIDs[i] = chEnr.TokenID
	}
	fmt.Printf("enrolled in %s\n", time.Since(startSeed).Round(time.Millisecond))

	genOpts := hotpOpts(cfg.OTP)
	authStats := runAuthenticatePhase(ctx, engine, states, genOpts, *ops, *concurrency)
	challengeStats := runChallengePhase(ctx, engine, deliverer, challengeIDs, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("challenge", challengeStats)
}

func runAuthenticatePhase(ctx context.Context, engine *privacyidea.Engine, states []tokenState, genOpts hotp.ValidateOpts, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]

				state.mu.Lock()
				code, err := hotp.GenerateCodeCustom(state.secret, state.counter, genOpts)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					state.mu.Unlock()
					continue
				}
				t0 := time.Now()
				verdict, err := engine.Authenticate(ctx, privacyidea.AuthRequest{
					Owner:    state.owner,
					Code:     code,
					TokenIDs: []string{state.id},
				})
				d := time.Since(t0)
				if err == nil && verdict.Outcome == privacyidea.OutcomeSuccess {
					state.counter++
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runChallengePhase(ctx context.Context, engine *privacyidea.Engine, deliverer *memoryDeliverer, tokenIDs []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				tokenID := tokenIDs[r.Intn(len(tokenIDs))]

				t0 := time.Now()
				receipt, err := engine.IssueChallenge(ctx, tokenID)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					mu.Lock()
					latencies = append(latencies, time.Since(t0))
					mu.Unlock()
					continue
				}
				response, _ := deliverer.responses.Load(receipt.TransactionID)
				verdict, err := engine.RespondChallenge(ctx, receipt.TransactionID, response.(string))
				d := time.Since(t0)
				if err != nil || verdict.Outcome != privacyidea.OutcomeSuccess {
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func hotpOpts(cfg privacyidea.OTPConfig) hotp.ValidateOpts {
	opts := hotp.ValidateOpts{Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}
	if cfg.Digits == 8 {
		opts.Digits = otp.DigitsEight
	}
	switch strings.ToUpper(cfg.Algorithm) {
	case "SHA256":
		opts.Algorithm = otp.AlgorithmSHA256
	case "SHA512":
		opts.Algorithm = otp.AlgorithmSHA512
	}
	return opts
}
