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
	"strings"
	"time"
)

func giveCmd(args []string) {
	fs := flag.NewFlagSet("give", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	sender := fs.String("as", "", "sender player (default: console)")
	_ = fs.Parse(args)
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: admin give [-url U] [-as P] <player> <type>")
		os.Exit(2)
	}
	body := map[string]string{"sender": *sender, "player": fs.Arg(0), "type": fs.Arg(1)}
	call(http.MethodPost, endpoint(*baseURL, "/admin/give", nil), body)
}

func reloadCmd(args []string) {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	sender := fs.String("as", "", "sender player (default: console)")
	_ = fs.Parse(args)
	call(http.MethodPost, endpoint(*baseURL, "/admin/reload", nil), map[string]string{"sender": *sender})
}

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	player := fs.String("player", "", "player name or uuid (default: server summary)")
	_ = fs.Parse(args)
	q := url.Values{}
	if *player != "" {
		q.Set("player", *player)
	}
	call(http.MethodGet, endpoint(*baseURL, "/admin/stats", q), nil)
}

func endpoint(base, path string, q url.Values) string {
	u := strings.TrimRight(strings.TrimSpace(base), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func call(method, u string, body any) {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, u, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
