// webhook-receiver is a throwaway target for local cronhook runs. It records
// every call, checks the signature when SECRET is set, and can be told to
// fail with STATUS.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type request struct {
	Timestamp   string `json:"timestamp"`
	JobID       string `json:"job_id"`
	FiringID    string `json:"firing_id"`
	ScheduledAt string `json:"scheduled_at"`
	Signature   string `json:"signature,omitempty"`
	// SignatureOK is nil when no SECRET is configured.
	SignatureOK *bool  `json:"signature_ok,omitempty"`
	Body        string `json:"body"`
}

type stats struct {
	Count        int64          `json:"count"`
	PerJob       map[string]int `json:"per_job"`
	BadSignature int64          `json:"bad_signature"`
	LastRequests []request      `json:"last_requests"`
	Since        string         `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	badSignature int64
	perJob       = map[string]int{}
	lastRequests []request
	since        time.Time
	maxStored    = 50

	secret string
	status = http.StatusOK
)

func main() {
	since = time.Now().UTC()

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	secret = os.Getenv("SECRET")
	if v := os.Getenv("STATUS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 100 || n > 599 {
			log.Fatalf("STATUS must be an http status code, got %q", v)
		}
		status = n
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		badSignature = 0
		perJob = map[string]int{}
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("webhook-receiver listening on %s (status=%d, signed=%t)", addr, status, secret != "")
	log.Fatal(http.ListenAndServe(addr, nil))
}

func verify(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(signature))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	req := request{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		JobID:       r.Header.Get("X-Cronhook-Job-ID"),
		FiringID:    r.Header.Get("X-Cronhook-Firing-ID"),
		ScheduledAt: r.Header.Get("X-Cronhook-Scheduled-At"),
		Signature:   r.Header.Get("X-Cronhook-Signature"),
		Body:        string(body),
	}
	if secret != "" {
		ok := verify(body, req.Signature)
		req.SignatureOK = &ok
	}

	mu.Lock()
	count++
	perJob[req.JobID]++
	if req.SignatureOK != nil && !*req.SignatureOK {
		badSignature++
	}
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("hook #%d job=%s firing=%s scheduled=%s body=%s", current, req.JobID, req.FiringID, req.ScheduledAt, body)
	if req.SignatureOK != nil && !*req.SignatureOK {
		log.Printf("hook #%d: signature mismatch", current)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	jobs := make(map[string]int, len(perJob))
	for k, v := range perJob {
		jobs[k] = v
	}
	s := stats{
		Count:        count,
		PerJob:       jobs,
		BadSignature: badSignature,
		LastRequests: append([]request(nil), lastRequests...),
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
