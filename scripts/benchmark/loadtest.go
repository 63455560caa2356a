package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Load test for the non-streaming fallback endpoint. Run the relay with
// loopback_enabled=true so no upstream provider is exercised.

type stats struct {
	totalRequests int64
	totalErrors   int64
	totalDuration int64 // microseconds

	mu        sync.Mutex
	latencies []int64
}

func main() {
	duration := flag.Int("duration", 30, "Test duration in seconds")
	concurrency := flag.Int("c", 50, "Number of concurrent workers")
	rps := flag.Int("rps", 0, "Target requests per second (0 = unlimited)")
	url := flag.String("url", "http://localhost:8080/v1/chat/completions", "Target URL")
	providerName := flag.String("provider", "loopback", "Provider to submit turns to")
	model := flag.String("model", "echo", "Model identifier")

	flag.Parse()

	fmt.Printf("Starting load test:\n")
	fmt.Printf("  URL: %s\n", *url)
	fmt.Printf("  Provider: %s model=%s\n", *providerName, *model)
	fmt.Printf("  Duration: %d seconds\n", *duration)
	fmt.Printf("  Concurrency: %d\n", *concurrency)
	fmt.Printf("  Target RPS: %d\n", *rps)
	fmt.Println()

	s := &stats{}

	var wg sync.WaitGroup
	start := time.Now()
	done := make(chan bool)

	var ticker *time.Ticker
	var rateChan <-chan time.Time
	if *rps > 0 {
		ticker = time.NewTicker(time.Second / time.Duration(*rps))
		rateChan = ticker.C
	}

	transport := &http.Transport{
		MaxIdleConns:        10000,
		MaxIdleConnsPerHost: 10000,
		MaxConnsPerHost:     10000,
		IdleConnTimeout:     90 * time.Second,
	}
	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: transport,
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"session_id": "loadtest",
		"provider":   *providerName,
		"model":      *model,
		"messages": []map[string]string{
			{"role": "user", "content": "benchmark turn"},
		},
	})

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					if rateChan != nil {
						<-rateChan
					}

					reqStart := time.Now()
					req, _ := http.NewRequest("POST", *url, bytes.NewReader(payload))
					req.Header.Set("Content-Type", "application/json")

					resp, err := client.Do(req)
					latency := time.Since(reqStart).Microseconds()

					atomic.AddInt64(&s.totalRequests, 1)
					atomic.AddInt64(&s.totalDuration, latency)
					s.mu.Lock()
					s.latencies = append(s.latencies, latency)
					s.mu.Unlock()

					if err != nil || resp.StatusCode != 200 {
						atomic.AddInt64(&s.totalErrors, 1)
					}
					if resp != nil {
						io.Copy(io.Discard, resp.Body)
						resp.Body.Close()
					}
				}
			}
		}()
	}

	time.AfterFunc(time.Duration(*duration)*time.Second, func() {
		close(done)
	})

	wg.Wait()
	if ticker != nil {
		ticker.Stop()
	}

	elapsed := time.Since(start).Seconds()

	sort.Slice(s.latencies, func(i, j int) bool {
		return s.latencies[i] < s.latencies[j]
	})

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("Benchmark Results")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Total Requests:     %d\n", s.totalRequests)
	fmt.Printf("Total Failures:     %d\n", s.totalErrors)
	fmt.Printf("Duration:           %.2f seconds\n", elapsed)
	fmt.Printf("Requests/sec:       %.2f\n", float64(s.totalRequests)/elapsed)
	fmt.Println(strings.Repeat("-", 60))
	if len(s.latencies) > 0 {
		fmt.Printf("Min Latency:        %.2f ms\n", float64(s.latencies[0])/1000)
		fmt.Printf("P50 Latency:        %.2f ms\n", float64(percentile(s.latencies, 0.50))/1000)
		fmt.Printf("Average Latency:    %.2f ms\n", float64(s.totalDuration)/float64(s.totalRequests)/1000)
		fmt.Printf("P95 Latency:        %.2f ms\n", float64(percentile(s.latencies, 0.95))/1000)
		fmt.Printf("P99 Latency:        %.2f ms\n", float64(percentile(s.latencies, 0.99))/1000)
		fmt.Printf("Max Latency:        %.2f ms\n", float64(s.latencies[len(s.latencies)-1])/1000)
		fmt.Println(strings.Repeat("-", 60))
		fmt.Printf("Error Rate:         %.2f%%\n", float64(s.totalErrors)/float64(s.totalRequests)*100)
	}
	fmt.Println(strings.Repeat("=", 60))
}

func percentile(latencies []int64, p float64) int64 {
	if len(latencies) == 0 {
		return 0
	}
	index := int(float64(len(latencies)) * p)
	if index >= len(latencies) {
		index = len(latencies) - 1
	}
	return latencies[index]
}
