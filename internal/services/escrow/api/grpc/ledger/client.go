package ledger

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/platform/timeouts"
	grpcmeta "github.com/louisbranch/taskescrow/internal/services/escrow/api/grpc/metadata"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/transaction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
)

// Client calls a remote LedgerService. Coded ledger errors come back as
// *apperrors.Error and missing accounts as storage.ErrNotFound, so callers
// handle a remote ledger like a local one.
type Client struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewClient returns a Client over conn with the default per-call timeout.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, timeout: timeouts.GRPCRequest}
}

// Process submits tx and returns its receipt.
func (c *Client) Process(ctx context.Context, tx *transaction.Transaction, requestID string) (runtime.Receipt, error) {
	ctx, cancel := c.callContext(ctx, requestID)
	defer cancel()
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, SubmitTransactionMethod, wrapperspb.Bytes(tx.Marshal()), out); err != nil {
		return runtime.Receipt{}, fromStatus(err)
	}
	return ReceiptFromStruct(out)
}

// GetAccount reads the account at addr.
func (c *Client) GetAccount(ctx context.Context, addr address.Address) (account.Account, error) {
	ctx, cancel := c.callContext(ctx, "")
	defer cancel()
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetAccountMethod, wrapperspb.Bytes(addr.Bytes()), out); err != nil {
		return account.Account{}, fromStatus(err)
	}
	return AccountFromStruct(out)
}

// Airdrop credits lamports to a system wallet.
func (c *Client) Airdrop(ctx context.Context, to address.Address, lamports uint64, requestID string) (runtime.Receipt, error) {
	in, err := airdropRequest(to, lamports)
	if err != nil {
		return runtime.Receipt{}, err
	}
	ctx, cancel := c.callContext(ctx, requestID)
	defer cancel()
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, AirdropMethod, in, out); err != nil {
		return runtime.Receipt{}, fromStatus(err)
	}
	return ReceiptFromStruct(out)
}

func (c *Client) callContext(ctx context.Context, requestID string) (context.Context, context.CancelFunc) {
	ctx = grpcmeta.OutgoingContext(ctx, requestID)
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func fromStatus(err error) error {
	if domainErr, ok := apperrors.FromGRPCStatus(err); ok {
		return domainErr
	}
	if status.Code(err) == codes.NotFound {
		return storage.ErrNotFound
	}
	return fmt.Errorf("ledger call: %w", err)
}
