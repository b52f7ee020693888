package perron_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/addityasingh/perron/pkg/perron"
)

// ExampleNew demonstrates basic usage with timing enabled.
func ExampleNew() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Hello, World!"))
	}))
	defer server.Close()

	client := perron.New(perron.WithTiming(true))

	req, err := perron.NewRequest(http.MethodGet, server.URL+"/greeting")
	if err != nil {
		log.Fatal(err)
	}
	resp, err := client.Do(context.Background(), req)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(resp.StatusCode, resp.Body)
	fmt.Println(resp.Phases.Total != nil)
	// Output:
	// 200 Hello, World!
	// true
}

// ExampleNew_withOptions demonstrates configuring timeouts and the pool.
func ExampleNew_withOptions() {
	client := perron.New(
		perron.WithKeepAlives(false),
		perron.WithConnectionTimeout(500*time.Millisecond),
		perron.WithReadTimeout(3*time.Second),
		perron.WithReadTimeoutMode(perron.ReadTimeoutFixed),
		perron.WithTLSHandshakeTimeout(3*time.Second),
	)

	cfg := client.Config()
	fmt.Println(cfg.ConnectionTimeout, cfg.ReadTimeout, cfg.ReadTimeoutMode)
	// Output: 500ms 3s fixed
}

// ExampleKindOf shows how callers branch on the fault kind.
func ExampleKindOf() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := perron.New(perron.WithReadTimeout(20 * time.Millisecond))
	_, err := client.Get(context.Background(), server.URL)

	switch perron.KindOf(err) {
	case perron.FaultReadTimeout:
		fmt.Println("read timeout, retryable:", errors.Is(err, perron.ErrReadTimeout))
	default:
		fmt.Println("unexpected:", err)
	}
	// Output: read timeout, retryable: true
}

// ExampleWithPrometheus demonstrates Prometheus integration.
func ExampleWithPrometheus() {
	reg := prometheus.NewRegistry()
	config, err := perron.NewPrometheusConfig(reg)
	if err != nil {
		log.Fatal(err)
	}

	client := perron.New(
		perron.WithTiming(true),
		perron.WithPrometheus(config),
	)
	_ = client
	// Serve reg with promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).
}

// ExampleClient_Start demonstrates running requests concurrently.
func ExampleClient_Start() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	client := perron.New()

	var pending []*perron.Pending
	for _, path := range []string{"/a", "/b", "/c"} {
		req, _ := perron.NewRequest(http.MethodGet, server.URL+path)
		pending = append(pending, client.Start(context.Background(), req))
	}
	for _, p := range pending {
		resp, err := p.Wait()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(resp.Body)
	}
	// Output:
	// /a
	// /b
	// /c
}
