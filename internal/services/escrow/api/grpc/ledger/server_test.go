package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcmd "google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	grpcmeta "github.com/louisbranch/taskescrow/internal/services/escrow/api/grpc/metadata"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/fee"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/program"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/transaction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/memory"
)

type wallet struct {
	key  ed25519.PrivateKey
	addr address.Address
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	w := wallet{key: key}
	copy(w.addr[:], pub)
	return w
}

// startServer serves a fresh base ledger over bufconn and returns a client
// connection to it.
func startServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	prog, err := program.New(program.Config{Fee: fee.Free})
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	ledger, err := runtime.New(context.Background(), runtime.Config{
		Name:     t.Name(),
		Store:    memory.New(),
		Programs: []runtime.Program{prog},
		Rent:     account.Rent{LamportsPerByte: 10},
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	listener := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcmeta.UnaryServerInterceptor(nil)))
	RegisterLedgerServiceServer(grpcServer, NewServer(ledger))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	t.Cleanup(func() {
		grpcServer.GracefulStop()
		_ = listener.Close()
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
		}
	})

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("dial ledger server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestClientTransfersAndReads(t *testing.T) {
	client := NewClient(startServer(t))
	ctx := context.Background()
	from, to := newWallet(t), newWallet(t)

	airdrop, err := client.Airdrop(ctx, from.addr, 1_000, "fund")
	if err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	if airdrop.Slot != 1 || airdrop.RequestID != "fund" {
		t.Fatalf("airdrop receipt = %+v", airdrop)
	}

	tx := transaction.New(1, instruction.NewSystemTransfer(from.addr, to.addr, 400))
	tx.Sign(from.key)
	receipt, err := client.Process(ctx, tx, "transfer-1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if receipt.Slot != 2 || receipt.Seq != 2 || receipt.ChainHash == "" || receipt.TransactionID == "" {
		t.Fatalf("receipt = %+v", receipt)
	}

	acct, err := client.GetAccount(ctx, to.addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Lamports != 400 || acct.Owner != instruction.SystemProgramID || acct.Data != nil {
		t.Fatalf("account = %+v", acct)
	}
}

func TestClientReturnsCodedErrors(t *testing.T) {
	client := NewClient(startServer(t))
	ctx := context.Background()
	creator := newWallet(t)
	if _, err := client.Airdrop(ctx, creator.addr, 10_000_000, ""); err != nil {
		t.Fatalf("airdrop: %v", err)
	}

	tx := transaction.New(1, instruction.NewCreateTask(creator.addr, instruction.TaskFields{
		TaskID:           1,
		MaxResponses:     1,
		Deadline:         time.Now().Add(time.Hour).Unix(),
		ContentReference: "ipfs://task",
	}))
	tx.Sign(creator.key)
	_, err := client.Process(ctx, tx, "")
	if got := apperrors.CodeOf(err); got != apperrors.CodeInvalidReward {
		t.Fatalf("code = %s (%v)", got.Name(), err)
	}

	_, err = client.GetAccount(ctx, newWallet(t).addr)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing account: %v", err)
	}

	unsigned := transaction.New(2, instruction.NewSystemTransfer(creator.addr, newWallet(t).addr, 1))
	_, err = client.Process(ctx, unsigned, "")
	if got := apperrors.CodeOf(err); got != apperrors.CodeAccountNotSigner {
		t.Fatalf("unsigned code = %s (%v)", got.Name(), err)
	}
}

func TestSubmitTransactionLocalizesErrors(t *testing.T) {
	conn := startServer(t)
	ctx := grpcmd.AppendToOutgoingContext(context.Background(),
		grpcmeta.LocaleHeader, "pt-BR",
		grpcmeta.RequestIDHeader, "req-pt")

	var header grpcmd.MD
	err := conn.Invoke(ctx, SubmitTransactionMethod, wrapperspb.Bytes([]byte{0xff}), new(structpb.Struct), grpc.Header(&header))
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.InvalidArgument {
		t.Fatalf("status = %v", err)
	}
	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		if d, ok := detail.(*errdetails.LocalizedMessage); ok {
			localized = d
		}
	}
	if localized == nil || localized.GetLocale() != "pt-BR" || localized.GetMessage() == "" {
		t.Fatalf("localized = %v", localized)
	}
	if got := header.Get(grpcmeta.RequestIDHeader); len(got) != 1 || got[0] != "req-pt" {
		t.Fatalf("request id header = %v", got)
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	conn := startServer(t)
	ctx := context.Background()

	err := conn.Invoke(ctx, GetAccountMethod, wrapperspb.Bytes([]byte{1, 2, 3}), new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("short address: %v", err)
	}

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"bad address", map[string]any{"to": "not-base58!", "lamports": "1"}},
		{"bad lamports", map[string]any{"to": newWallet(t).addr.String(), "lamports": "-1"}},
		{"zero lamports", map[string]any{"to": newWallet(t).addr.String(), "lamports": "0"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in, err := structpb.NewStruct(tc.fields)
			if err != nil {
				t.Fatalf("struct: %v", err)
			}
			err = conn.Invoke(ctx, AirdropMethod, in, new(structpb.Struct))
			if status.Code(err) != codes.InvalidArgument {
				t.Fatalf("airdrop: %v", err)
			}
		})
	}
}

func TestReceiptStructKeepsLargeValues(t *testing.T) {
	task := newWallet(t).addr
	in := runtime.Receipt{
		Slot:                   1<<63 + 1,
		Seq:                    7,
		RequestID:              "req",
		ScheduledUndelegations: []address.Address{task},
		Logs:                   []string{"Task created successfully"},
	}
	s, err := ReceiptToStruct(in)
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	out, err := ReceiptFromStruct(s)
	if err != nil {
		t.Fatalf("from struct: %v", err)
	}
	if out.Slot != in.Slot || len(out.ScheduledUndelegations) != 1 || out.ScheduledUndelegations[0] != task || out.Logs[0] != in.Logs[0] {
		t.Fatalf("receipt = %+v", out)
	}
}
