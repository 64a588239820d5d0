package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"itemgen.ai/internal/protocol"
)

// watchCmd tails the live event stream.
func watchCmd(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	wsURL := fs.String("url", "ws://127.0.0.1:8080/v1/events", "event stream url")
	kinds := fs.String("kinds", "", "comma separated event kinds (default: all)")
	owner := fs.String("owner", "", "owner uuid filter")
	since := fs.Uint64("since", 0, "replay retained events after this cursor first")
	_ = fs.Parse(args)

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Owner: *owner}
	for _, k := range strings.Split(*kinds, ",") {
		if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
			sub.Kinds = append(sub.Kinds, k)
		}
	}
	if err := conn.WriteJSON(sub); err != nil {
		fmt.Fprintln(os.Stderr, "subscribe:", err)
		os.Exit(1)
	}
	if *since > 0 {
		_ = conn.WriteJSON(protocol.EventBatchReqMsg{
			Type:            protocol.TypeEventBatchReq,
			ProtocolVersion: protocol.Version,
			ReqID:           "watch",
			SinceCursor:     *since,
		})
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if base.Type == protocol.TypeError {
			fmt.Fprintln(os.Stderr, string(msg))
			os.Exit(1)
		}
		fmt.Println(string(msg))
	}
}
