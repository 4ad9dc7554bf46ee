package account

import (
	"encoding/binary"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
)

// Seed namespaces. Every dependent record includes its task's address, so a
// vault or response can never be mistaken for another task's.
const (
	SeedAdmin              = "admin"
	SeedTask               = "task"
	SeedVault              = "vault"
	SeedResponse           = "response"
	SeedBuffer             = "buffer"
	SeedDelegation         = "delegation"
	SeedDelegationMetadata = "delegation-metadata"
)

// TaskIDBytes is the little-endian seed form of a task id.
func TaskIDBytes(taskID uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, taskID)
}

// AdminSeeds returns the admin registry seeds.
func AdminSeeds() [][]byte {
	return [][]byte{[]byte(SeedAdmin)}
}

// TaskSeeds returns the seeds of a creator's task.
func TaskSeeds(creator address.Address, taskID uint64) [][]byte {
	return [][]byte{[]byte(SeedTask), creator.Bytes(), TaskIDBytes(taskID)}
}

// VaultSeeds returns the seeds of a task's reward vault.
func VaultSeeds(task address.Address) [][]byte {
	return [][]byte{[]byte(SeedVault), task.Bytes()}
}

// ResponseSeeds returns the seeds of a responder's response to a task.
func ResponseSeeds(task, responder address.Address) [][]byte {
	return [][]byte{[]byte(SeedResponse), task.Bytes(), responder.Bytes()}
}

// BufferSeeds returns the seeds of a delegated task's state buffer.
func BufferSeeds(task address.Address) [][]byte {
	return [][]byte{[]byte(SeedBuffer), task.Bytes()}
}

// DelegationSeeds returns the seeds of a delegated task's record.
func DelegationSeeds(task address.Address) [][]byte {
	return [][]byte{[]byte(SeedDelegation), task.Bytes()}
}

// DelegationMetadataSeeds returns the seeds of a delegated task's metadata.
func DelegationMetadataSeeds(task address.Address) [][]byte {
	return [][]byte{[]byte(SeedDelegationMetadata), task.Bytes()}
}

// Derive finds the program address for seeds. Every seed set in this
// package is within the derivation limits, so only an exhausted bump search
// can fail, and that panics.
func Derive(seeds [][]byte, programID address.Address) (address.Address, uint8) {
	addr, bump, err := address.FindProgramAddress(seeds, programID)
	if err != nil {
		panic(err)
	}
	return addr, bump
}

// AdminAddress derives the admin registry address.
func AdminAddress(programID address.Address) (address.Address, uint8) {
	return Derive(AdminSeeds(), programID)
}

// TaskAddress derives a task address.
func TaskAddress(programID, creator address.Address, taskID uint64) (address.Address, uint8) {
	return Derive(TaskSeeds(creator, taskID), programID)
}

// VaultAddress derives a reward vault address.
func VaultAddress(programID, task address.Address) (address.Address, uint8) {
	return Derive(VaultSeeds(task), programID)
}

// ResponseAddress derives a response address.
func ResponseAddress(programID, task, responder address.Address) (address.Address, uint8) {
	return Derive(ResponseSeeds(task, responder), programID)
}

// BufferAddress derives a delegation buffer address.
func BufferAddress(programID, task address.Address) (address.Address, uint8) {
	return Derive(BufferSeeds(task), programID)
}

// DelegationAddress derives a delegation record address.
func DelegationAddress(programID, task address.Address) (address.Address, uint8) {
	return Derive(DelegationSeeds(task), programID)
}

// DelegationMetadataAddress derives a delegation metadata address.
func DelegationMetadataAddress(programID, task address.Address) (address.Address, uint8) {
	return Derive(DelegationMetadataSeeds(task), programID)
}
