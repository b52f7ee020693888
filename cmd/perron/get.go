package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/addityasingh/perron/pkg/perron"
)

// requestIDHeader carries a generated id so server logs can be correlated.
const requestIDHeader = "X-Request-Id"

type getOptions struct {
	client clientFlags

	method   string
	headers  []string
	query    []string
	data     string
	jsonOut  bool
	showBody bool
}

func newGetCmd(g *globals) *cobra.Command {
	o := &getOptions{}
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Execute a single request and print its phase timings",
		Long: `Execute a single request and print its status, headers and phase timings.

Examples:
  perron get https://example.com
  perron get -X POST -H 'Content-Type: application/json' -d '{"a":1}' https://api.example.com/items
  perron get --read-timeout 500ms --fixed-read-timeout --json https://example.com/slow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.data != "" && !cmd.Flags().Changed("method") {
				o.method = http.MethodPost
			}
			return o.run(cmd.Context(), g, cmd.OutOrStdout(), args[0])
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&o.method, "method", "X", http.MethodGet, "HTTP method")
	fs.StringArrayVarP(&o.headers, "header", "H", nil, "Request header 'Name: value' (repeatable)")
	fs.StringArrayVarP(&o.query, "query", "q", nil, "Query parameter key=value (repeatable)")
	fs.StringVarP(&o.data, "data", "d", "", "Request body; implies POST unless -X is given")
	fs.BoolVar(&o.jsonOut, "json", false, "Print the result as JSON")
	fs.BoolVar(&o.showBody, "body", false, "Print the response body")
	o.client.register(fs)
	return cmd
}

// getResult is the JSON rendering of one execution.
type getResult struct {
	RequestID string               `json:"request_id"`
	Method    string               `json:"method"`
	URL       string               `json:"url"`
	Status    int                  `json:"status,omitempty"`
	Headers   http.Header          `json:"headers,omitempty"`
	Body      string               `json:"body,omitempty"`
	Timings   *perron.Timings      `json:"timings,omitempty"`
	Phases    *perron.TimingPhases `json:"phases,omitempty"`
	Fault     string               `json:"fault,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func (o *getOptions) run(ctx context.Context, g *globals, out io.Writer, rawURL string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	req, err := buildRequest(o.method, rawURL, o.headers, o.query, o.data, g.file.Defaults.Headers)
	if err != nil {
		return err
	}
	requestID := req.Headers.Get(requestIDHeader)

	client := perron.New(o.client.options(g)...)
	g.log.V(1).Info("executing", "requestID", requestID, "url", req.URL())
	resp, err := client.Do(ctx, req)

	if o.jsonOut {
		res := getResult{RequestID: requestID, Method: req.Method, URL: req.URL()}
		if resp != nil {
			res.Status = resp.StatusCode
			res.Headers = resp.Headers
			res.Timings = resp.Timings
			res.Phases = resp.Phases
			if o.showBody {
				res.Body = resp.Body
			}
		}
		if err != nil {
			res.Error = err.Error()
			if kind := perron.KindOf(err); kind != 0 {
				res.Fault = kind.String()
			}
			if t, p, ok := perron.TimingsOf(err); ok {
				res.Timings, res.Phases = &t, &p
			}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
	} else {
		p := newPrinter(out)
		if err != nil {
			p.fault(err)
		} else {
			p.response(resp, o.showBody)
		}
	}

	if err != nil {
		return errReported
	}
	return nil
}

// buildRequest assembles a perron request from CLI inputs. Default headers
// are applied first so -H can override them; a request id is added when the
// caller did not supply one.
func buildRequest(method, rawURL string, headers, query []string, data string, defaults map[string]string) (*perron.Request, error) {
	req, err := perron.NewRequest(strings.ToUpper(method), rawURL)
	if err != nil {
		return nil, err
	}

	for k, v := range defaults {
		req.SetHeader(k, v)
	}
	for _, h := range headers {
		k, v, err := parseHeader(h)
		if err != nil {
			return nil, err
		}
		req.SetHeader(k, v)
	}
	for _, q := range query {
		k, v, _ := strings.Cut(q, "=")
		if k == "" {
			return nil, fmt.Errorf("invalid query parameter %q, want key=value", q)
		}
		req.SetQueryParam(k, v)
	}
	if data != "" {
		req.Body = []byte(data)
	}
	if req.Headers.Get(requestIDHeader) == "" {
		req.SetHeader(requestIDHeader, uuid.NewString())
	}
	return req, nil
}

func parseHeader(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, ":")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return "", "", fmt.Errorf("invalid header %q, want 'Name: value'", s)
	}
	return k, strings.TrimSpace(v), nil
}
