// Package transaction defines the signed envelope that carries instructions
// to a ledger.
package transaction

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/codec"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
)

const (
	// MaxInstructions caps instructions per transaction.
	MaxInstructions = 64
	// MaxAccountsPerInstruction caps account references per instruction.
	MaxAccountsPerInstruction = 64
	// MaxSignatures caps signatures per transaction.
	MaxSignatures = 16
	// MaxInstructionData caps one instruction's data payload.
	MaxInstructionData = 1 << 20
)

const (
	flagSigner   = 1 << 0
	flagWritable = 1 << 1
)

// Message is the signed content of a transaction. Nonce lets a caller send
// two otherwise identical messages.
type Message struct {
	Nonce        uint64
	Instructions []instruction.Instruction
}

// Marshal encodes the message.
func (m Message) Marshal() []byte {
	w := codec.NewWriter(256)
	w.U64(m.Nonce)
	w.U32(uint32(len(m.Instructions)))
	for _, ix := range m.Instructions {
		w.Address(ix.ProgramID)
		w.U32(uint32(len(ix.Accounts)))
		for _, meta := range ix.Accounts {
			w.Address(meta.Address)
			var flags uint8
			if meta.IsSigner {
				flags |= flagSigner
			}
			if meta.IsWritable {
				flags |= flagWritable
			}
			w.U8(flags)
		}
		w.ByteString(ix.Data)
	}
	return w.Bytes()
}

func decodeMessage(r *codec.Reader) Message {
	var m Message
	m.Nonce = r.U64()
	n := r.Count(MaxInstructions)
	m.Instructions = make([]instruction.Instruction, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		var ix instruction.Instruction
		ix.ProgramID = r.Address()
		metas := r.Count(MaxAccountsPerInstruction)
		ix.Accounts = make([]instruction.AccountMeta, 0, metas)
		for j := 0; j < metas && r.Err() == nil; j++ {
			addr := r.Address()
			flags := r.U8()
			if flags&^(flagSigner|flagWritable) != 0 {
				r.Fail(fmt.Errorf("unknown account flags %#x", flags))
			}
			ix.Accounts = append(ix.Accounts, instruction.AccountMeta{
				Address:    addr,
				IsSigner:   flags&flagSigner != 0,
				IsWritable: flags&flagWritable != 0,
			})
		}
		ix.Data = r.ByteString(MaxInstructionData)
		m.Instructions = append(m.Instructions, ix)
	}
	return m
}

// Signature binds one signer's ed25519 signature to the message.
type Signature struct {
	Signer    address.Address
	Signature [ed25519.SignatureSize]byte
}

// Transaction is a message plus the signatures of every signer it names.
type Transaction struct {
	Signatures []Signature
	Message    Message
}

// New builds an unsigned transaction.
func New(nonce uint64, instructions ...instruction.Instruction) *Transaction {
	return &Transaction{Message: Message{Nonce: nonce, Instructions: instructions}}
}

// Sign appends a signature for each key. A key that already signed is
// re-signed in place.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) {
	msg := tx.Message.Marshal()
	for _, key := range keys {
		var sig Signature
		copy(sig.Signer[:], key.Public().(ed25519.PublicKey))
		copy(sig.Signature[:], ed25519.Sign(key, msg))
		replaced := false
		for i := range tx.Signatures {
			if tx.Signatures[i].Signer == sig.Signer {
				tx.Signatures[i] = sig
				replaced = true
			}
		}
		if !replaced {
			tx.Signatures = append(tx.Signatures, sig)
		}
	}
}

// Marshal encodes signatures followed by the message.
func (tx *Transaction) Marshal() []byte {
	w := codec.NewWriter(256)
	w.U32(uint32(len(tx.Signatures)))
	for _, sig := range tx.Signatures {
		w.Address(sig.Signer)
		w.Raw(sig.Signature[:])
	}
	w.Raw(tx.Message.Marshal())
	return w.Bytes()
}

// Unmarshal decodes a transaction. It does not verify signatures.
func Unmarshal(data []byte) (*Transaction, error) {
	r := codec.NewReader(data)
	n := r.Count(MaxSignatures)
	tx := &Transaction{Signatures: make([]Signature, 0, n)}
	for i := 0; i < n && r.Err() == nil; i++ {
		var sig Signature
		sig.Signer = r.Address()
		copy(sig.Signature[:], r.Raw(ed25519.SignatureSize))
		tx.Signatures = append(tx.Signatures, sig)
	}
	tx.Message = decodeMessage(r)
	if err := r.Finish(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransactionMalformed, "decode transaction", err)
	}
	return tx, nil
}

// ID is the SHA-256 digest of the encoded transaction.
func (tx *Transaction) ID() [sha256.Size]byte {
	return sha256.Sum256(tx.Marshal())
}

// MessageID is the SHA-256 digest of the signed message. Unlike ID it does
// not change when signatures are reordered, so it names the transaction for
// replay checks.
func (tx *Transaction) MessageID() [sha256.Size]byte {
	return sha256.Sum256(tx.Message.Marshal())
}

// Signers returns the addresses with a signature on the transaction.
func (tx *Transaction) Signers() map[address.Address]bool {
	out := make(map[address.Address]bool, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		out[sig.Signer] = true
	}
	return out
}

// Verify checks every signature against the message and that every account
// flagged as a signer actually signed.
func (tx *Transaction) Verify() error {
	if len(tx.Message.Instructions) == 0 {
		return apperrors.New(apperrors.CodeTransactionMalformed, "no instructions")
	}
	msg := tx.Message.Marshal()
	for _, sig := range tx.Signatures {
		if !ed25519.Verify(ed25519.PublicKey(sig.Signer[:]), msg, sig.Signature[:]) {
			return apperrors.New(apperrors.CodeSignatureVerificationFailed, sig.Signer.String())
		}
	}
	signers := tx.Signers()
	for _, ix := range tx.Message.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !signers[meta.Address] {
				return apperrors.New(apperrors.CodeAccountNotSigner, meta.Address.String())
			}
		}
	}
	return nil
}
