package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCodeNamesAreStable(t *testing.T) {
	tests := []struct {
		code Code
		name string
		num  uint32
	}{
		{CodeInvalidTaskID, "InvalidTaskId", 6000},
		{CodeInvalidCid, "InvalidCid", 6004},
		{CodeAlreadyExists, "AlreadyExists", 6012},
		{CodeReconcileInvariantViolated, "ReconcileInvariantViolated", 6024},
		{CodeConstraintSeeds, "ConstraintSeeds", 2006},
		{Code(4242), "Unknown", 4242},
	}
	for _, tc := range tests {
		if got := tc.code.Name(); got != tc.name {
			t.Errorf("Code(%d).Name() = %q, want %q", tc.code, got, tc.name)
		}
		if uint32(tc.code) != tc.num {
			t.Errorf("%s = %d, want %d", tc.name, tc.code, tc.num)
		}
	}
}

func TestIsProgramError(t *testing.T) {
	if !CodeInvalidReward.IsProgramError() {
		t.Fatal("expected program error")
	}
	if CodeAccountNotSigner.IsProgramError() {
		t.Fatal("expected runtime error")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeInvalidReward, codes.InvalidArgument},
		{CodeUnauthorized, codes.PermissionDenied},
		{CodeTaskAlreadyComplete, codes.FailedPrecondition},
		{CodeAccountNotInitialized, codes.NotFound},
		{CodeResponseAlreadyExists, codes.AlreadyExists},
		{CodeDuplicateTransaction, codes.AlreadyExists},
		{CodeAccountLocked, codes.Aborted},
		{CodeAccountDidNotDeserialize, codes.DataLoss},
		{CodeTransferFailed, codes.OutOfRange},
		{CodeUnknown, codes.Internal},
	}
	for _, tc := range tests {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Errorf("%s.GRPCCode() = %v, want %v", tc.code.Name(), got, tc.want)
		}
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(CodeDeadlinePassed, "deadline 10 <= now 11"))
	if !stderrors.Is(err, New(CodeDeadlinePassed, "")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if stderrors.Is(err, New(CodeInvalidDeadline, "")) {
		t.Fatal("expected different code not to match")
	}
	if got := CodeOf(err); got != CodeDeadlinePassed {
		t.Fatalf("CodeOf = %v, want DeadlinePassed", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %v, want Unknown", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeTransferFailed, "credit vault", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.Error() != "TransferFailed: credit vault" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestToGRPCStatusRoundTrip(t *testing.T) {
	src := WithMetadata(CodeMaxResponsesReached, "task full", map[string]string{"Max": "3"})
	st, ok := status.FromError(src.ToGRPCStatus("en-US", "Task is full"))
	if !ok {
		t.Fatal("expected grpc status")
	}
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("status code = %v", st.Code())
	}

	var info *errdetails.ErrorInfo
	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			info = d
		case *errdetails.LocalizedMessage:
			localized = d
		}
	}
	if info == nil || info.GetReason() != "MaxResponsesReached" {
		t.Fatalf("error info = %v", info)
	}
	if info.GetMetadata()[MetadataCode] != "6009" {
		t.Fatalf("code metadata = %q", info.GetMetadata()[MetadataCode])
	}
	if localized == nil || localized.GetMessage() != "Task is full" {
		t.Fatalf("localized = %v", localized)
	}

	back, ok := FromGRPCStatus(st.Err())
	if !ok {
		t.Fatal("expected domain error from status")
	}
	if back.Code != CodeMaxResponsesReached || back.Message != "task full" {
		t.Fatalf("round trip = %+v", back)
	}
	if back.Metadata["Max"] != "3" {
		t.Fatalf("metadata = %v", back.Metadata)
	}
}

func TestFromGRPCStatusIgnoresForeignErrors(t *testing.T) {
	if _, ok := FromGRPCStatus(stderrors.New("plain")); ok {
		t.Fatal("expected plain error to be ignored")
	}
	if _, ok := FromGRPCStatus(status.Error(codes.Unavailable, "down")); ok {
		t.Fatal("expected status without details to be ignored")
	}
}
