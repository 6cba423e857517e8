// storecheck inspects the tiered cache's backing stores: answer-tier keys
// per domain in Redis, fact and query-map point counts in Qdrant, and how
// many fact records are past expiry. With -cleanup it deletes the expired
// records after reporting.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/cache"
	"github.com/recaplabs/recap/internal/circuitbreaker"
	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/vectorstore"
)

func main() {
	cleanup := flag.Bool("cleanup", false, "Delete expired fact-tier records after reporting")
	samples := flag.Int("samples", 3, "Answer entries to list per domain")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall deadline for all store calls")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "storecheck: load configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Store internals log through zap in the service; here the report is
	// the output, so internal logging stays off and errors print inline.
	logger := zap.NewNop()

	redisw := circuitbreaker.NewRedisWrapper(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), logger)
	defer redisw.Close()

	qdrant := vectorstore.NewClient(vectorstore.Config{
		BaseURL: cfg.Qdrant.URL(),
		Timeout: cfg.Qdrant.Timeout,
	}, logger)

	failed := false
	if err := reportAnswers(ctx, redisw, cfg, *samples); err != nil {
		fmt.Printf("Answer tier (%s): unreachable: %v\n", cfg.Redis.Addr, err)
		failed = true
	}

	// Counts and cleanup never embed, so the store runs without an embedder.
	facts := cache.NewFactStore(qdrant, nil, cache.FactStoreConfig{
		Collection: cfg.Qdrant.FactsCollection,
		Dimension:  cfg.Embeddings.Dimension,
		TTLDays:    cfg.Cache.FactTTLDays,
	}, logger)

	if err := reportFacts(ctx, facts, qdrant, cfg, *cleanup); err != nil {
		fmt.Printf("Fact tier (%s): unreachable: %v\n", cfg.Qdrant.URL(), err)
		failed = true
	}

	if failed {
		os.Exit(1)
	}
}

func reportAnswers(ctx context.Context, redisw *circuitbreaker.RedisWrapper, cfg *config.Config, samples int) error {
	if err := redisw.Ping(ctx).Err(); err != nil {
		return err
	}

	prefix := cfg.Cache.KeyPrefix + ":"
	counts := make(map[string]int)
	sampled := make(map[string][]string)

	var cursor uint64
	for {
		keys, next, err := redisw.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			domain := domainFromKey(key, prefix)
			counts[domain]++
			if len(sampled[domain]) < samples {
				sampled[domain] = append(sampled[domain], key)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	fmt.Printf("Answer tier (%s, prefix %s)\n", cfg.Redis.Addr, cfg.Cache.KeyPrefix)
	if len(counts) == 0 {
		fmt.Println("  no entries")
		return nil
	}

	domains := make([]string, 0, len(counts))
	total := 0
	for d, n := range counts {
		domains = append(domains, d)
		total += n
	}
	sort.Strings(domains)

	for _, domain := range domains {
		fmt.Printf("  %-16s %d entries\n", domain, counts[domain])
		for _, key := range sampled[domain] {
			printAnswerSample(ctx, redisw, key)
		}
	}
	fmt.Printf("  total: %d entries across %d domains\n", total, len(domains))
	return nil
}

// domainFromKey extracts the domain segment from {prefix}:{domain}:{key}.
func domainFromKey(key, prefix string) string {
	rest := strings.TrimPrefix(key, prefix)
	if i := strings.IndexByte(rest, ':'); i > 0 {
		return rest[:i]
	}
	return "(unparsed)"
}

func printAnswerSample(ctx context.Context, redisw *circuitbreaker.RedisWrapper, key string) {
	raw, err := redisw.Get(ctx, key).Result()
	if err != nil {
		fmt.Printf("    %s: read failed: %v\n", key, err)
		return
	}
	var entry cache.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		fmt.Printf("    %s: undecodable (%d bytes)\n", key, len(raw))
		return
	}

	shortKey := entry.Key
	if len(shortKey) > 12 {
		shortKey = shortKey[:12]
	}
	fmt.Printf("    %-12s  %6d bytes  age %s  expires in %s\n",
		shortKey,
		len(entry.Content),
		roundAge(time.Since(entry.CreatedAt)),
		roundAge(time.Until(entry.ExpiresAt)),
	)
}

func reportFacts(ctx context.Context, facts *cache.FactStore, qdrant *vectorstore.Client, cfg *config.Config, cleanup bool) error {
	total, err := facts.Count(ctx)
	if err != nil {
		return err
	}
	expired, err := facts.CountExpired(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Fact tier (%s, collection %s)\n", cfg.Qdrant.URL(), cfg.Qdrant.FactsCollection)
	fmt.Printf("  points:  %d\n", total)
	fmt.Printf("  expired: %d\n", expired)

	if cleanup && expired > 0 {
		deleted, err := facts.CleanupExpired(ctx)
		if err != nil {
			return fmt.Errorf("cleanup after %d deletions: %w", deleted, err)
		}
		fmt.Printf("  deleted: %d\n", deleted)
	}

	mapped, err := qdrant.Count(ctx, cfg.Qdrant.QueryMapCollection, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Query map (collection %s)\n", cfg.Qdrant.QueryMapCollection)
	fmt.Printf("  points:  %d\n", mapped)
	return nil
}

func roundAge(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d > 48*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d > 2*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return d.Round(time.Minute).String()
	}
}
