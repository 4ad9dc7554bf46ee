package ledger

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
)

// Unsigned 64-bit values travel as decimal strings; a Struct number is a
// float64 and cannot hold every lamport amount.

// ReceiptToStruct renders a receipt for the wire.
func ReceiptToStruct(receipt runtime.Receipt) (*structpb.Struct, error) {
	scheduled := make([]any, 0, len(receipt.ScheduledUndelegations))
	for _, addr := range receipt.ScheduledUndelegations {
		scheduled = append(scheduled, addr.String())
	}
	logs := make([]any, 0, len(receipt.Logs))
	for _, line := range receipt.Logs {
		logs = append(logs, line)
	}
	return structpb.NewStruct(map[string]any{
		"slot":                    strconv.FormatUint(receipt.Slot, 10),
		"seq":                     strconv.FormatUint(receipt.Seq, 10),
		"request_id":              receipt.RequestID,
		"transaction_id":          receipt.TransactionID,
		"chain_hash":              receipt.ChainHash,
		"scheduled_undelegations": scheduled,
		"logs":                    logs,
	})
}

// ReceiptFromStruct parses a receipt rendered by ReceiptToStruct.
func ReceiptFromStruct(s *structpb.Struct) (runtime.Receipt, error) {
	fields := s.GetFields()
	var receipt runtime.Receipt
	var err error
	if receipt.Slot, err = uintField(fields, "slot"); err != nil {
		return runtime.Receipt{}, err
	}
	if receipt.Seq, err = uintField(fields, "seq"); err != nil {
		return runtime.Receipt{}, err
	}
	receipt.RequestID = fields["request_id"].GetStringValue()
	receipt.TransactionID = fields["transaction_id"].GetStringValue()
	receipt.ChainHash = fields["chain_hash"].GetStringValue()
	for _, v := range fields["scheduled_undelegations"].GetListValue().GetValues() {
		addr, err := address.Parse(v.GetStringValue())
		if err != nil {
			return runtime.Receipt{}, fmt.Errorf("scheduled undelegation: %w", err)
		}
		receipt.ScheduledUndelegations = append(receipt.ScheduledUndelegations, addr)
	}
	for _, v := range fields["logs"].GetListValue().GetValues() {
		receipt.Logs = append(receipt.Logs, v.GetStringValue())
	}
	return receipt, nil
}

// AccountToStruct renders an account for the wire. kind names the record
// layout when the data carries a known discriminator.
func AccountToStruct(addr address.Address, acct account.Account) (*structpb.Struct, error) {
	fields := map[string]any{
		"address":  addr.String(),
		"owner":    acct.Owner.String(),
		"lamports": strconv.FormatUint(acct.Lamports, 10),
		"data":     base64.StdEncoding.EncodeToString(acct.Data),
	}
	if kind, ok := account.KindOf(acct.Data); ok {
		fields["kind"] = string(kind)
	}
	return structpb.NewStruct(fields)
}

// AccountFromStruct parses an account rendered by AccountToStruct.
func AccountFromStruct(s *structpb.Struct) (account.Account, error) {
	fields := s.GetFields()
	owner, err := address.Parse(fields["owner"].GetStringValue())
	if err != nil {
		return account.Account{}, fmt.Errorf("owner: %w", err)
	}
	lamports, err := uintField(fields, "lamports")
	if err != nil {
		return account.Account{}, err
	}
	data, err := base64.StdEncoding.DecodeString(fields["data"].GetStringValue())
	if err != nil {
		return account.Account{}, fmt.Errorf("data: %w", err)
	}
	if len(data) == 0 {
		data = nil
	}
	return account.Account{Owner: owner, Lamports: lamports, Data: data}, nil
}

func airdropRequest(to address.Address, lamports uint64) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"to":       to.String(),
		"lamports": strconv.FormatUint(lamports, 10),
	})
}

func parseAirdropRequest(s *structpb.Struct) (address.Address, uint64, error) {
	fields := s.GetFields()
	to, err := address.Parse(fields["to"].GetStringValue())
	if err != nil {
		return address.Address{}, 0, fmt.Errorf("to: %w", err)
	}
	lamports, err := uintField(fields, "lamports")
	if err != nil {
		return address.Address{}, 0, err
	}
	return to, lamports, nil
}

func uintField(fields map[string]*structpb.Value, name string) (uint64, error) {
	v, err := strconv.ParseUint(fields[name].GetStringValue(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
