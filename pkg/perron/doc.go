// Package perron executes single HTTP requests with per-phase timing and
// two independent timeouts.
//
// Each request is driven by a small lifecycle state machine. It records the
// elapsed time at which a connection was assigned, DNS resolution finished,
// the connection became usable, response headers arrived and the body was
// fully read. It enforces a connection timeout, which only applies while a
// new connection is being established, and a read timeout, which starts once
// a usable connection exists. The response body is collected in memory,
// decompressed for gzip and deflate encodings, and returned as UTF-8 text.
//
// Every request resolves exactly once: with a *Response, or with an error
// whose kind can be inspected with KindOf or errors.Is against ErrTransport,
// ErrStream, ErrConnectionTimeout and ErrReadTimeout.
//
// Basic usage:
//
//	client := perron.New(perron.WithTiming(true))
//
//	req, err := perron.NewRequest(http.MethodGet, "https://example.com/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := client.Do(ctx, req)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(resp.StatusCode, resp.Phases)
//
// Configuration options are available through the functional options pattern:
//
//	client := perron.New(
//	    perron.WithConnectionTimeout(500*time.Millisecond),
//	    perron.WithReadTimeout(2*time.Second),
//	    perron.WithKeepAlives(false),
//	    perron.WithPrometheus(prometheusConfig),
//	    perron.WithOpenTelemetry(otelConfig),
//	)
//
// The client performs no retries, follows no redirects and does not parse
// bodies beyond text decoding.
package perron
