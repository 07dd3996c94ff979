// alphactl is the command-line companion to the trader's control endpoint.
//
//	alphactl -amount 200 -count 5 start
//	alphactl -amount 200 start-smart
//	alphactl stop
//	alphactl status
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/wherexml/alpha-trade/internal/control"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:9109", "trader control address")
	amount := flag.Float64("amount", 0, "buy amount in quote currency")
	count := flag.Int("count", 0, "trade count limit (0 = unlimited)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: alphactl [flags] start|start-smart|stop|force-stop|configure|status")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	var err error
	switch cmd := flag.Arg(0); cmd {
	case "start":
		err = post(client, *addr, control.Request{Action: "start", Amount: *amount, TradeCount: *count})
	case "start-smart":
		err = post(client, *addr, control.Request{Action: "start_smart", Amount: *amount, TradeCount: *count})
	case "stop":
		err = post(client, *addr, control.Request{Action: "stop"})
	case "force-stop":
		err = post(client, *addr, control.Request{Action: "force_stop"})
	case "configure":
		err = post(client, *addr, control.Request{Action: "configure", Amount: *amount, TradeCount: *count})
	case "status":
		err = status(client, *addr)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func post(client *http.Client, addr string, req control.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := client.Post(addr+"/control", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var ack control.Response
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("%s rejected: %s", req.Action, ack.Error)
	}
	fmt.Println("ok")
	return nil
}

func status(client *http.Client, addr string) error {
	resp, err := client.Get(addr + "/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var st control.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	s := st.Session
	fmt.Printf("mode:        %s\n", s.Mode)
	fmt.Printf("running:     %v\n", s.IsRunning)
	fmt.Printf("trades:      %d", s.CurrentTradeCount)
	if s.MaxTradeCount > 0 {
		fmt.Printf(" / %d", s.MaxTradeCount)
	}
	fmt.Println()
	fmt.Printf("amount:      %.2f (ratio %.1f)\n", s.BaseAmount, s.BuyAmountRatio)
	fmt.Printf("can buy:     %v\n", s.CanStartBuying)
	fmt.Printf("daily count: %d\n", s.DailyCount)

	if n := len(st.Logs); n > 0 {
		fmt.Println("\nrecent logs:")
		tail := st.Logs
		if n > 10 {
			tail = tail[n-10:]
		}
		for _, e := range tail {
			fmt.Printf("  %s [%s] %s\n", e.Ts.Format(time.TimeOnly), e.Level, e.Message)
		}
	}
	return nil
}
