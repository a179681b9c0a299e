// Command rs485-tester is an interactive exerciser for the bus master:
// discovery, frame-out and frame-out-then-in transactions against a live
// adapter.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"

	"homectl-go/rs485"
)

func main() {
	portPath := flag.String("port", "/dev/ttyUSB0", "serial device of the bus adapter")
	flag.Parse()

	port, err := rs485.Open(*portPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	master := rs485.NewMaster(*portPath, port)
	defer master.Close()

	fmt.Println("commands: discover [timeout_ms] | out <dev4> <ser8> <payload> [service] | outin <dev4> <ser8> <payload> [timeout_ms] [service] | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Println("parse:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "quit", "exit":
			return
		case "discover":
			timeout := 250 * time.Millisecond
			if len(args) > 1 {
				timeout = parseMs(args[1], timeout)
			}
			addr, err := master.TransactionDiscovery(context.Background(), timeout)
			if err != nil {
				fmt.Println("discover:", err)
				continue
			}
			fmt.Println("found", addr)
		case "out":
			if len(args) < 4 {
				fmt.Println("usage: out <dev4> <ser8> <payload> [service]")
				continue
			}
			addr, payload, err := parseTarget(args[1], args[2], args[3])
			if err != nil {
				fmt.Println(err)
				continue
			}
			service := len(args) > 4 && args[4] == "service"
			if err := master.TransactionOut(context.Background(), service, addr, payload); err != nil {
				fmt.Println("out:", err)
				continue
			}
			fmt.Println("ok")
		case "outin":
			if len(args) < 4 {
				fmt.Println("usage: outin <dev4> <ser8> <payload> [timeout_ms] [service]")
				continue
			}
			addr, payload, err := parseTarget(args[1], args[2], args[3])
			if err != nil {
				fmt.Println(err)
				continue
			}
			timeout := 250 * time.Millisecond
			if len(args) > 4 {
				timeout = parseMs(args[4], timeout)
			}
			service := len(args) > 5 && args[5] == "service"
			response, err := master.TransactionOutIn(context.Background(), service, addr, payload, timeout)
			if err != nil {
				fmt.Println("outin:", err)
				continue
			}
			fmt.Printf("response: %q\n", response.String())
		default:
			fmt.Println("unknown command:", args[0])
		}
	}
}

func parseTarget(deviceType, serial, payload string) (rs485.Address, rs485.Payload, error) {
	addr, err := rs485.NewAddress(deviceType, serial)
	if err != nil {
		return rs485.Address{}, nil, err
	}
	p, err := rs485.NewPayload([]byte(payload))
	if err != nil {
		return rs485.Address{}, nil, err
	}
	return addr, p, nil
}

func parseMs(s string, fallback time.Duration) time.Duration {
	ms, err := strconv.Atoi(s)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
