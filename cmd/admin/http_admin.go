package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// statusCmd prints the live platform table from a running server.
func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	os.Exit(callAdmin(http.MethodGet, *baseURL, "/admin/v1/status", nil, 5*time.Second))
}

// snapshotCmd asks the server to write a snapshot at the next tick boundary.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	os.Exit(callAdmin(http.MethodPost, *baseURL, "/admin/v1/snapshot", nil, 10*time.Second))
}

// runsCmd queries the server's run index, flushing pending writes first.
func runsCmd(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	platformID := fs.String("platform", "", "platform filter")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := url.Values{}
	if p := strings.TrimSpace(*platformID); p != "" {
		q.Set("platform", p)
	}
	q.Set("limit", strconv.Itoa(*limit))
	os.Exit(callAdmin(http.MethodGet, *baseURL, "/admin/v1/runs", q, 10*time.Second))
}

// callAdmin sends one request and prints the indented JSON body. It returns
// the process exit code.
func callAdmin(method, base, path string, q url.Values, timeout time.Duration) int {
	u := strings.TrimRight(strings.TrimSpace(base), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 2
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		return 1
	}
	var out bytes.Buffer
	if json.Indent(&out, body, "", "  ") == nil {
		body = out.Bytes()
	}
	fmt.Println(strings.TrimSpace(string(body)))
	if resp.StatusCode/100 != 2 {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", method, path, resp.Status)
		return 1
	}
	return 0
}
