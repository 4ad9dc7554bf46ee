// Package timeouts defines shared timeout constants used by the ledger
// processes.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// GRPCRequest caps the time allowed for a single call from the session
// coordinator to the base ledger.
const GRPCRequest = 5 * time.Second

// Shutdown limits how long a gRPC server waits for in-flight transactions
// during graceful shutdown.
const Shutdown = 5 * time.Second

// CommitPoll is how often the session coordinator drains scheduled
// undelegations when no transaction triggered a commit.
const CommitPoll = time.Second
