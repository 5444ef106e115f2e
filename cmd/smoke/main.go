// Command smoke runs a short end-to-end check against a running API: health,
// readiness, the public eligibility endpoints and the gRPC health service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"etiasassist.app/internal/eligibility"
	"etiasassist.app/internal/ids"
)

func main() {
	base := strings.TrimRight(envOr("ETIAS_API_URL", "http://localhost:8080"), "/")
	grpcAddr := envOr("ETIAS_GRPC_ADDR", "localhost:9090")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := &http.Client{Timeout: 5 * time.Second}

	for _, path := range []string{"/healthz", "/readyz"} {
		if _, err := call(ctx, client, http.MethodGet, base+path, nil, nil); err != nil {
			log.Fatalf("%s: %v", path, err)
		}
	}

	var catalog struct {
		Eligible []string `json:"eligible"`
		Schengen []string `json:"schengen"`
	}
	body, err := call(ctx, client, http.MethodGet, base+"/v1/eligibility/countries", nil, nil)
	if err != nil {
		log.Fatalf("countries: %v", err)
	}
	if err := json.Unmarshal(body, &catalog); err != nil {
		log.Fatalf("decode countries: %v", err)
	}
	if len(catalog.Eligible) == 0 || len(catalog.Schengen) == 0 {
		log.Fatalf("country catalog is empty")
	}

	session := "smoke-" + ids.New()
	check := func(nationality string, passport bool) eligibility.Decision {
		payload, _ := json.Marshal(eligibility.Request{Nationality: nationality, HasValidPassport: passport})
		body, err := call(ctx, client, http.MethodPost, base+"/v1/eligibility/check", payload,
			map[string]string{"X-Session-ID": session})
		if err != nil {
			log.Fatalf("eligibility %s: %v", nationality, err)
		}
		var res eligibility.Decision
		if err := json.Unmarshal(body, &res); err != nil {
			log.Fatalf("decode eligibility: %v", err)
		}
		return res
	}
	if res := check(catalog.Eligible[0], true); !res.IsEligible {
		log.Fatalf("%s should be eligible: %s", catalog.Eligible[0], res.Reason)
	}
	if res := check(catalog.Eligible[0], false); res.IsEligible {
		log.Fatalf("missing passport should not be eligible")
	}

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial grpc %s: %v", grpcAddr, err)
	}
	defer conn.Close()
	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("grpc health: %v", err)
	}
	if hc.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatalf("grpc health status %s", hc.GetStatus())
	}

	fmt.Printf("smoke ok: %d eligible nationalities, grpc %s\n", len(catalog.Eligible), hc.GetStatus())
}

func call(ctx context.Context, client *http.Client, method, url string, payload []byte, headers map[string]string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(out))
	}
	return out, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
