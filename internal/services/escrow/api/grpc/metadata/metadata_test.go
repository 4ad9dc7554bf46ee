package metadata

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/louisbranch/taskescrow/internal/platform/requestctx"
)

func TestIsPrintableASCII(t *testing.T) {
	if IsPrintableASCII("") {
		t.Fatal("expected empty string to be non-printable")
	}
	if !IsPrintableASCII("req-1") {
		t.Fatal("expected printable ascii to be accepted")
	}
	if IsPrintableASCII("line\n") {
		t.Fatal("expected newline to be non-printable")
	}
}

func TestFirstMetadataValue(t *testing.T) {
	md := metadata.MD{"X-Taskescrow-Request-Id": {"\n", "req-1"}}
	if got := FirstMetadataValue(md, RequestIDHeader); got != "req-1" {
		t.Fatalf("FirstMetadataValue = %q, want req-1", got)
	}
	if got := FirstMetadataValue(metadata.MD{}, RequestIDHeader); got != "" {
		t.Fatalf("expected empty value, got %q", got)
	}
}

// headerStream satisfies grpc.ServerTransportStream so SetHeader works
// outside a real server.
type headerStream struct {
	header metadata.MD
}

func (s *headerStream) Method() string { return "/test/Method" }

func (s *headerStream) SetHeader(md metadata.MD) error {
	s.header = metadata.Join(s.header, md)
	return nil
}

func (s *headerStream) SendHeader(md metadata.MD) error { return s.SetHeader(md) }
func (s *headerStream) SetTrailer(metadata.MD) error    { return nil }

func invoke(t *testing.T, ctx context.Context, gen func() (string, error)) (context.Context, *headerStream, error) {
	t.Helper()
	stream := &headerStream{}
	ctx = grpc.NewContextWithServerTransportStream(ctx, stream)
	var seen context.Context
	_, err := UnaryServerInterceptor(gen)(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/test/Method"},
		func(ctx context.Context, req any) (any, error) {
			seen = ctx
			return nil, nil
		})
	return seen, stream, err
}

func TestUnaryServerInterceptorKeepsCallerRequestID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		RequestIDHeader, "req-7",
		LocaleHeader, "pt-BR,en;q=0.5",
	))
	seen, stream, err := invoke(t, ctx, func() (string, error) { return "generated", nil })
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if got := requestctx.RequestIDFromContext(seen); got != "req-7" {
		t.Fatalf("request id = %q", got)
	}
	if got := requestctx.LocaleFromContext(seen); got != "pt-BR" {
		t.Fatalf("locale = %q", got)
	}
	if got := stream.header.Get(RequestIDHeader); len(got) != 1 || got[0] != "req-7" {
		t.Fatalf("response header = %v", got)
	}
}

func TestUnaryServerInterceptorGeneratesRequestID(t *testing.T) {
	seen, _, err := invoke(t, context.Background(), func() (string, error) { return "generated", nil })
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if got := requestctx.RequestIDFromContext(seen); got != "generated" {
		t.Fatalf("request id = %q", got)
	}
	if got := requestctx.LocaleFromContext(seen); got != "en-US" {
		t.Fatalf("locale = %q", got)
	}
}

func TestUnaryServerInterceptorGeneratorError(t *testing.T) {
	_, _, err := invoke(t, context.Background(), func() (string, error) { return "", errors.New("boom") })
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestOutgoingContext(t *testing.T) {
	ctx := OutgoingContext(context.Background(), "req-9")
	md, _ := metadata.FromOutgoingContext(ctx)
	if got := FirstMetadataValue(md, RequestIDHeader); got != "req-9" {
		t.Fatalf("outgoing request id = %q", got)
	}
}
