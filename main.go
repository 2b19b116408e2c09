// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("go-posync - Offline-first checkout and ledger sync for POS terminals")
	fmt.Println("====================================================================")
	fmt.Println()
	fmt.Println("Sales are captured locally when the network is down and replayed to the")
	fmt.Println("central ledger on reconnect, exactly once per checkout.")
	fmt.Println()

	fmt.Println("Examples:")
	fmt.Println()
	fmt.Println("1. Ledger server (examples/ledger_server/)")
	fmt.Println("   HTTP ledger API backed by PostgreSQL, or memory when POSYNC_DATABASE_URL is unset")
	fmt.Println("   Features: JWT auth, per-terminal rate limiting, optional Redis product cache")
	fmt.Println("   Run: cd examples/ledger_server && go run .")
	fmt.Println()

	fmt.Println("2. POS terminal (examples/pos_terminal/)")
	fmt.Println("   Line-oriented till with a SQLite pending queue and reachability probing")
	fmt.Println("   Features: offline checkout, background drain on reconnect, pending count")
	fmt.Println("   Run: cd examples/pos_terminal && go run .")
	fmt.Println()
}
