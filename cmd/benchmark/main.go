package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"image/color"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/punchamoorthee/cashflow/internal/api"
	"github.com/punchamoorthee/cashflow/internal/domain"
)

// Config holds the benchmark settings
var (
	targetURL   string
	secret      string
	concurrency int
	requests    int
	creatorID   int64
	signerID    int64
)

// Metrics
var (
	totalRequests uint64
	signed200     uint64 // Decision recorded
	fail409       uint64 // AlreadyDecided / closed
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&secret, "secret", "dev-secret", "JWT signing secret of the API")
	flag.IntVar(&concurrency, "workers", 10, "Concurrent signers racing for the same slot")
	flag.IntVar(&requests, "requests", 20, "Cash requests to create and race on")
	flag.Int64Var(&creatorID, "creator", 1, "User id creating requests (admin or accountant)")
	flag.Int64Var(&signerID, "signer", 10, "Signer user id racing to sign")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: requests=%d | Workers: %d", requests, concurrency)

	auth := api.NewAuthenticator(secret)
	creatorTok, err := auth.IssueToken(creatorID, domain.RoleAdmin, "benchmark", time.Hour)
	if err != nil {
		log.Fatal(err)
	}
	signerTok, err := auth.IssueToken(signerID, domain.RoleSigner, "benchmark", time.Hour)
	if err != nil {
		log.Fatal(err)
	}
	signature := signatureDataURL()
	client := &http.Client{Timeout: 5 * time.Second}

	start := time.Now()
	for i := 0; i < requests; i++ {
		id, err := createRequest(client, creatorTok)
		if err != nil {
			log.Fatalf("create request: %v", err)
		}
		race(client, signerTok, id, signature)
	}
	printResults(time.Since(start))
}

func createRequest(client *http.Client, token string) (int64, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"account": "main", "op_type": "withdraw", "amount": "100.00", "source_kind": "benchmark",
	})
	req, _ := http.NewRequest("POST", targetURL+"/api/v1/cash-requests", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var view domain.RequestView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return 0, err
	}
	return view.Request.ID, nil
}

// race fires concurrent signatures for one (request, signer, attempt) slot.
// Exactly one should win.
func race(client *http.Client, token string, id int64, signature string) {
	body, _ := json.Marshal(map[string]string{"signature": signature})
	url := fmt.Sprintf("%s/api/v1/cash-requests/%d/sign", targetURL, id)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	gate := make(chan struct{})
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			<-gate
			req, _ := http.NewRequest("POST", url, bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := client.Do(req)
			if err != nil {
				atomic.AddUint64(&failOther, 1)
				return
			}
			atomic.AddUint64(&totalRequests, 1)
			switch resp.StatusCode {
			case http.StatusOK:
				atomic.AddUint64(&signed200, 1)
			case http.StatusConflict:
				atomic.AddUint64(&fail409, 1)
			default:
				atomic.AddUint64(&failOther, 1)
			}
			resp.Body.Close()
		}()
	}
	close(gate)
	wg.Wait()
}

func signatureDataURL() string {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(120, 40, color.Black), imaging.PNG); err != nil {
		log.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&signed200)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	results := map[string]interface{}{
		"duration_sec":     d.Seconds(),
		"requests":         requests,
		"workers":          concurrency,
		"total_signatures": total,
		"throughput_tps":   float64(total) / d.Seconds(),
		"signed":           s200,
		"conflicts":        f409,
		"errors":           fErr,
		"double_signed":    s200 > uint64(requests),
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create("results_signature_race.json")
	if err != nil {
		log.Printf("save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
