// Package ledger serves and calls the LedgerService gRPC API.
package ledger

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/platform/errors/i18n"
	"github.com/louisbranch/taskescrow/internal/platform/requestctx"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/transaction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
)

// Ledger is what the service exposes: a base ledger or a session coordinator.
type Ledger interface {
	Process(ctx context.Context, tx *transaction.Transaction, requestID string) (runtime.Receipt, error)
	GetAccount(ctx context.Context, addr address.Address) (account.Account, error)
	Airdrop(ctx context.Context, to address.Address, lamports uint64, requestID string) (runtime.Receipt, error)
}

// Server implements LedgerServiceServer over a Ledger.
type Server struct {
	UnimplementedLedgerServiceServer
	ledger Ledger
}

// NewServer returns a Server for ledger.
func NewServer(ledger Ledger) *Server {
	return &Server{ledger: ledger}
}

// SubmitTransaction decodes, executes and commits one transaction.
func (s *Server) SubmitTransaction(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if s == nil || s.ledger == nil {
		return nil, status.Error(codes.Internal, "ledger is not configured")
	}
	tx, err := transaction.Unmarshal(in.GetValue())
	if err != nil {
		return nil, handleError(ctx, err)
	}
	receipt, err := s.ledger.Process(ctx, tx, requestctx.RequestIDFromContext(ctx))
	if err != nil {
		return nil, handleError(ctx, err)
	}
	out, err := ReceiptToStruct(receipt)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode receipt: %v", err)
	}
	return out, nil
}

// GetAccount returns the committed account at an address.
func (s *Server) GetAccount(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if s == nil || s.ledger == nil {
		return nil, status.Error(codes.Internal, "ledger is not configured")
	}
	addr, err := address.FromBytes(in.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "address: %v", err)
	}
	acct, err := s.ledger.GetAccount(ctx, addr)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	out, err := AccountToStruct(addr, acct)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode account: %v", err)
	}
	return out, nil
}

// Airdrop credits lamports to a system wallet.
func (s *Server) Airdrop(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s == nil || s.ledger == nil {
		return nil, status.Error(codes.Internal, "ledger is not configured")
	}
	to, lamports, err := parseAirdropRequest(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "airdrop: %v", err)
	}
	if lamports == 0 {
		return nil, status.Error(codes.InvalidArgument, "airdrop: lamports must be positive")
	}
	receipt, err := s.ledger.Airdrop(ctx, to, lamports, requestctx.RequestIDFromContext(ctx))
	if err != nil {
		return nil, handleError(ctx, err)
	}
	out, err := ReceiptToStruct(receipt)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode receipt: %v", err)
	}
	return out, nil
}

// handleError converts a ledger error to a gRPC status with a message
// localized for the caller.
func handleError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return status.Error(codes.NotFound, "account not found")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		catalog := i18n.GetCatalog(requestctx.LocaleFromContext(ctx))
		userMsg := catalog.Format(appErr.Code.Name(), appErr.Metadata)
		return appErr.ToGRPCStatus(catalog.Locale(), userMsg)
	}
	log.Printf("ledger request %s: %v", requestctx.RequestIDFromContext(ctx), err)
	return status.Error(codes.Internal, "an unexpected error occurred")
}
