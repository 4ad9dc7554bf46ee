// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable numeric error code.
//
// Program errors start at ProgramErrorBase. Lower ranges are reserved for the
// runtime: 100s for instruction decoding, 2000s for account constraints,
// 3000s for account loading, 9000s for host accounting checks.
type Code uint32

// ProgramErrorBase is the first code assigned to escrow program errors.
const ProgramErrorBase Code = 6000

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = 0

	// Instruction errors
	CodeInstructionMissing           Code = 100
	CodeInstructionFallbackNotFound  Code = 101
	CodeInstructionDidNotDeserialize Code = 102

	// Constraint errors
	CodeConstraintMut     Code = 2000
	CodeConstraintHasOne  Code = 2001
	CodeConstraintSigner  Code = 2002
	CodeConstraintSeeds   Code = 2006
	CodeConstraintAddress Code = 2012

	// Account errors
	CodeAccountDiscriminatorNotFound Code = 3001
	CodeAccountDiscriminatorMismatch Code = 3002
	CodeAccountDidNotDeserialize     Code = 3003
	CodeAccountNotEnoughKeys         Code = 3005
	CodeAccountNotMutable            Code = 3006
	CodeAccountOwnedByWrongProgram   Code = 3007
	CodeAccountNotSigner             Code = 3010
	CodeAccountNotInitialized        Code = 3012

	// Host accounting errors
	CodeUnbalancedTransaction       Code = 9001
	CodeExternalAccountLamportSpend Code = 9002
	CodeReadonlyDataModified        Code = 9003
	CodeInsufficientFunds           Code = 9004
	CodeAccountLocked               Code = 9005
	CodeSignatureVerificationFailed Code = 9006
	CodeTransactionMalformed        Code = 9007
	CodeDuplicateTransaction        Code = 9008

	// Program errors
	CodeInvalidTaskID              = ProgramErrorBase + 0
	CodeInvalidReward              = ProgramErrorBase + 1
	CodeInvalidMaxResponses        = ProgramErrorBase + 2
	CodeInvalidDeadline            = ProgramErrorBase + 3
	CodeInvalidCid                 = ProgramErrorBase + 4
	CodeInputTooLarge              = ProgramErrorBase + 5
	CodeTaskAlreadyComplete        = ProgramErrorBase + 6
	CodeTaskNotComplete            = ProgramErrorBase + 7
	CodeDeadlinePassed             = ProgramErrorBase + 8
	CodeMaxResponsesReached        = ProgramErrorBase + 9
	CodeNotEnoughResponses         = ProgramErrorBase + 10
	CodeResponseAlreadyExists      = ProgramErrorBase + 11
	CodeAlreadyExists              = ProgramErrorBase + 12
	CodeUnauthorized               = ProgramErrorBase + 13
	CodeInvalidDepositAmount       = ProgramErrorBase + 14
	CodeInvalidDisbursementAmount  = ProgramErrorBase + 15
	CodeInsufficientVaultBalance   = ProgramErrorBase + 16
	CodeTransferFailed             = ProgramErrorBase + 17
	CodeRewardAlreadyPaid          = ProgramErrorBase + 18
	CodeRewardExceedsAllocation    = ProgramErrorBase + 19
	CodeTaskAlreadyDelegated       = ProgramErrorBase + 20
	CodeTaskNotDelegated           = ProgramErrorBase + 21
	CodeInvalidReconcileSeeds      = ProgramErrorBase + 22
	CodeStaleCommit                = ProgramErrorBase + 23
	CodeReconcileInvariantViolated = ProgramErrorBase + 24
)

var codeNames = map[Code]string{
	CodeUnknown:                      "Unknown",
	CodeInstructionMissing:           "InstructionMissing",
	CodeInstructionFallbackNotFound:  "InstructionFallbackNotFound",
	CodeInstructionDidNotDeserialize: "InstructionDidNotDeserialize",
	CodeConstraintMut:                "ConstraintMut",
	CodeConstraintHasOne:             "ConstraintHasOne",
	CodeConstraintSigner:             "ConstraintSigner",
	CodeConstraintSeeds:              "ConstraintSeeds",
	CodeConstraintAddress:            "ConstraintAddress",
	CodeAccountDiscriminatorNotFound: "AccountDiscriminatorNotFound",
	CodeAccountDiscriminatorMismatch: "AccountDiscriminatorMismatch",
	CodeAccountDidNotDeserialize:     "AccountDidNotDeserialize",
	CodeAccountNotEnoughKeys:         "AccountNotEnoughKeys",
	CodeAccountNotMutable:            "AccountNotMutable",
	CodeAccountOwnedByWrongProgram:   "AccountOwnedByWrongProgram",
	CodeAccountNotSigner:             "AccountNotSigner",
	CodeAccountNotInitialized:        "AccountNotInitialized",
	CodeUnbalancedTransaction:        "UnbalancedTransaction",
	CodeExternalAccountLamportSpend:  "ExternalAccountLamportSpend",
	CodeReadonlyDataModified:         "ReadonlyDataModified",
	CodeInsufficientFunds:            "InsufficientFunds",
	CodeAccountLocked:                "AccountLocked",
	CodeSignatureVerificationFailed:  "SignatureVerificationFailed",
	CodeTransactionMalformed:         "TransactionMalformed",
	CodeDuplicateTransaction:         "DuplicateTransaction",
	CodeInvalidTaskID:                "InvalidTaskId",
	CodeInvalidReward:                "InvalidReward",
	CodeInvalidMaxResponses:          "InvalidMaxResponses",
	CodeInvalidDeadline:              "InvalidDeadline",
	CodeInvalidCid:                   "InvalidCid",
	CodeInputTooLarge:                "InputTooLarge",
	CodeTaskAlreadyComplete:          "TaskAlreadyComplete",
	CodeTaskNotComplete:              "TaskNotComplete",
	CodeDeadlinePassed:               "DeadlinePassed",
	CodeMaxResponsesReached:          "MaxResponsesReached",
	CodeNotEnoughResponses:           "NotEnoughResponses",
	CodeResponseAlreadyExists:        "ResponseAlreadyExists",
	CodeAlreadyExists:                "AlreadyExists",
	CodeUnauthorized:                 "Unauthorized",
	CodeInvalidDepositAmount:         "InvalidDepositAmount",
	CodeInvalidDisbursementAmount:    "InvalidDisbursementAmount",
	CodeInsufficientVaultBalance:     "InsufficientVaultBalance",
	CodeTransferFailed:               "TransferFailed",
	CodeRewardAlreadyPaid:            "RewardAlreadyPaid",
	CodeRewardExceedsAllocation:      "RewardExceedsAllocation",
	CodeTaskAlreadyDelegated:         "TaskAlreadyDelegated",
	CodeTaskNotDelegated:             "TaskNotDelegated",
	CodeInvalidReconcileSeeds:        "InvalidReconcileSeeds",
	CodeStaleCommit:                  "StaleCommit",
	CodeReconcileInvariantViolated:   "ReconcileInvariantViolated",
}

// Name returns the stable identifier for the code, e.g. "InvalidTaskId".
func (c Code) Name() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return codeNames[CodeUnknown]
}

// IsProgramError reports whether the code belongs to the escrow program range.
func (c Code) IsProgramError() bool {
	return c >= ProgramErrorBase
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInstructionMissing,
		CodeInstructionFallbackNotFound,
		CodeInstructionDidNotDeserialize,
		CodeTransactionMalformed,
		CodeAccountNotEnoughKeys,
		CodeInvalidTaskID,
		CodeInvalidReward,
		CodeInvalidMaxResponses,
		CodeInvalidDeadline,
		CodeInvalidCid,
		CodeInputTooLarge,
		CodeInvalidDepositAmount,
		CodeInvalidDisbursementAmount:
		return codes.InvalidArgument

	// PermissionDenied - wrong signer, wrong derived address, wrong admin
	case CodeConstraintMut,
		CodeConstraintHasOne,
		CodeConstraintSigner,
		CodeConstraintSeeds,
		CodeConstraintAddress,
		CodeAccountNotMutable,
		CodeAccountNotSigner,
		CodeAccountOwnedByWrongProgram,
		CodeExternalAccountLamportSpend,
		CodeReadonlyDataModified,
		CodeUnauthorized,
		CodeInvalidReconcileSeeds:
		return codes.PermissionDenied

	// FailedPrecondition - state doesn't allow operation
	case CodeTaskAlreadyComplete,
		CodeTaskNotComplete,
		CodeDeadlinePassed,
		CodeMaxResponsesReached,
		CodeNotEnoughResponses,
		CodeRewardAlreadyPaid,
		CodeRewardExceedsAllocation,
		CodeTaskAlreadyDelegated,
		CodeTaskNotDelegated,
		CodeStaleCommit,
		CodeReconcileInvariantViolated,
		CodeInsufficientVaultBalance,
		CodeInsufficientFunds:
		return codes.FailedPrecondition

	// NotFound - account doesn't exist
	case CodeAccountNotInitialized:
		return codes.NotFound

	// AlreadyExists - derived address collision, replayed transaction
	case CodeAlreadyExists,
		CodeResponseAlreadyExists,
		CodeDuplicateTransaction:
		return codes.AlreadyExists

	// Unauthenticated - a signature does not verify
	case CodeSignatureVerificationFailed:
		return codes.Unauthenticated

	// Aborted - retry may succeed once the competing transaction finishes
	case CodeAccountLocked:
		return codes.Aborted

	// DataLoss - persisted bytes do not match a known layout
	case CodeAccountDiscriminatorNotFound,
		CodeAccountDiscriminatorMismatch,
		CodeAccountDidNotDeserialize:
		return codes.DataLoss

	case CodeTransferFailed:
		return codes.OutOfRange

	default:
		return codes.Internal
	}
}
