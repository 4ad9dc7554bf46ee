// Package integrity hashes and signs journal entries so the journal forms a
// tamper-evident chain.
package integrity
