// Command solver finds a proof-of-work solution for an issued challenge.
// Given the nonce and difficulty from POST /api/pow/challenge it prints the
// solutionNonce and solutionHash to submit with the gated write.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"rightsgate/internal/pow"
)

func main() {
	nonce := flag.String("nonce", "", "challenge nonce (required)")
	difficulty := flag.Int("difficulty", 3, "required leading zero hex digits")
	flag.Parse()

	if *nonce == "" {
		log.Fatal("missing -nonce")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	solutionNonce, solutionHash, err := pow.Solve(ctx, *nonce, *difficulty)
	if err != nil {
		log.Fatalf("solve aborted: %v", err)
	}

	fmt.Printf("solutionNonce: %d\n", solutionNonce)
	fmt.Printf("solutionHash:  %s\n", solutionHash)
	fmt.Printf("elapsed:       %s\n", time.Since(start))
}
