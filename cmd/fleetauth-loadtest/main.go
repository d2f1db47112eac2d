// Command fleetauth-loadtest measures Redis-backed session lookups and
// one-time code round trips under concurrency.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fleetyard/fleetauth/otp"
	"github.com/fleetyard/fleetauth/session"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		users       = flag.Int("users", 1000, "number of distinct users owning the sessions")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, FLEETAUTH_REDIS_ADDR or miniredis is used")
		prefix      = flag.String("prefix", "lt", "key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, users, concurrency and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	registry := session.NewRedisRegistry(client, *prefix+"s", time.Now)
	verifier, err := otp.NewVerifier(otp.NewRedisStore(client, *prefix+"o", time.Now), otp.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "otp: %v\n", err)
		os.Exit(1)
	}

	ids, err := seed(ctx, registry, *sessions, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	lookup := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		_, err := registry.Get(ctx, ids[r.Intn(len(ids))])
		return err
	})
	codes := runPhase(*ops, *concurrency, func(_ *rand.Rand, i int) error {
		email := fmt.Sprintf("driver-%d@loadtest.invalid", i)
		code, err := verifier.Issue(ctx, email, otp.PurposeSignup)
		if err != nil {
			return err
		}
		return verifier.Verify(ctx, email, otp.PurposeSignup, code)
	})
	list := runPhase(*ops/10+1, *concurrency, func(r *rand.Rand, _ int) error {
		_, err := registry.ListForUser(ctx, fmt.Sprintf("u%d", r.Intn(*users)))
		return err
	})

	fmt.Println("---- results ----")
	printStats("session get", lookup)
	printStats("code issue+verify", codes)
	printStats("sessions by user", list)
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("FLEETAUTH_REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func seed(ctx context.Context, registry session.Registry, n, users int) ([]string, error) {
	fmt.Printf("seeding %d sessions across %d users...\n", n, users)
	start := time.Now()
	ids := make([]string, n)
	now := time.Now()
	for i := range ids {
		sid, err := session.NewID()
		if err != nil {
			return nil, err
		}
		err = registry.Create(ctx, session.Entry{
			SessionID:      sid,
			UserID:         fmt.Sprintf("u%d", i%users),
			LoginHistoryID: fmt.Sprintf("lh-%d", i),
			CreatedAt:      now,
			ExpiresAt:      now.Add(24 * time.Hour),
		})
		if err != nil {
			return nil, err
		}
		ids[i] = sid
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return ids, nil
}

// runPhase spreads ops calls of fn over concurrency workers. fn receives
// a per-worker source and the global operation index.
func runPhase(ops, concurrency int, fn func(r *rand.Rand, i int) error) phaseStats {
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
				t0 := time.Now()
				err := fn(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
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
