package instruction

import (
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/codec"
)

// MaxArgString caps strings in argument payloads. Content references are
// decoded up to this size so the program can reject them with InputTooLarge.
const MaxArgString = 4096

// Payload is an encodable instruction argument set.
type Payload interface {
	Name() Name
	encode(w *codec.Writer)
}

// Args is a decodable instruction argument set.
type Args interface {
	Payload
	decode(r *codec.Reader)
}

// Encode prefixes the argument payload with its opcode.
func Encode(args Payload) []byte {
	w := codec.NewWriter(64)
	op := Opcode(args.Name())
	w.Raw(op[:])
	args.encode(w)
	return w.Bytes()
}

type InitAdminArgs struct{}

func (InitAdminArgs) Name() Name            { return InitAdmin }
func (InitAdminArgs) encode(*codec.Writer)  {}
func (*InitAdminArgs) decode(*codec.Reader) {}

// TaskFields is the payload shared by createTask and updateTask.
type TaskFields struct {
	TaskID            uint64
	RewardPerResponse uint64
	MaxResponses      uint16
	Deadline          int64
	ContentReference  string
}

func (f TaskFields) encode(w *codec.Writer) {
	w.U64(f.TaskID)
	w.U64(f.RewardPerResponse)
	w.U16(f.MaxResponses)
	w.I64(f.Deadline)
	w.String(f.ContentReference)
}

func (f *TaskFields) decode(r *codec.Reader) {
	f.TaskID = r.U64()
	f.RewardPerResponse = r.U64()
	f.MaxResponses = r.U16()
	f.Deadline = r.I64()
	f.ContentReference = r.String(MaxArgString)
}

type CreateTaskArgs struct{ TaskFields }

func (CreateTaskArgs) Name() Name { return CreateTask }

type UpdateTaskArgs struct{ TaskFields }

func (UpdateTaskArgs) Name() Name { return UpdateTask }

type DepositFundsArgs struct {
	TaskID uint64
	Amount uint64
}

func (DepositFundsArgs) Name() Name { return DepositFunds }

func (a DepositFundsArgs) encode(w *codec.Writer) {
	w.U64(a.TaskID)
	w.U64(a.Amount)
}

func (a *DepositFundsArgs) decode(r *codec.Reader) {
	a.TaskID = r.U64()
	a.Amount = r.U64()
}

type SubmitResponseArgs struct {
	ContentReference string
}

func (SubmitResponseArgs) Name() Name { return SubmitResponse }

func (a SubmitResponseArgs) encode(w *codec.Writer) { w.String(a.ContentReference) }

func (a *SubmitResponseArgs) decode(r *codec.Reader) { a.ContentReference = r.String(MaxArgString) }

type VerifyResponseArgs struct{}

func (VerifyResponseArgs) Name() Name            { return VerifyResponse }
func (VerifyResponseArgs) encode(*codec.Writer)  {}
func (*VerifyResponseArgs) decode(*codec.Reader) {}

type DisburseRewardsArgs struct {
	Amount uint64
}

func (DisburseRewardsArgs) Name() Name { return DisburseRewards }

func (a DisburseRewardsArgs) encode(w *codec.Writer) { w.U64(a.Amount) }

func (a *DisburseRewardsArgs) decode(r *codec.Reader) { a.Amount = r.U64() }

type MarkTaskCompleteArgs struct{}

func (MarkTaskCompleteArgs) Name() Name            { return MarkTaskComplete }
func (MarkTaskCompleteArgs) encode(*codec.Writer)  {}
func (*MarkTaskCompleteArgs) decode(*codec.Reader) {}

type RefundRemainingArgs struct{}

func (RefundRemainingArgs) Name() Name            { return RefundRemaining }
func (RefundRemainingArgs) encode(*codec.Writer)  {}
func (*RefundRemainingArgs) decode(*codec.Reader) {}

type CancelTaskArgs struct{}

func (CancelTaskArgs) Name() Name            { return CancelTask }
func (CancelTaskArgs) encode(*codec.Writer)  {}
func (*CancelTaskArgs) decode(*codec.Reader) {}

type DelegateTaskAccountArgs struct {
	TaskID uint64
}

func (DelegateTaskAccountArgs) Name() Name { return DelegateTaskAccount }

func (a DelegateTaskAccountArgs) encode(w *codec.Writer) { w.U64(a.TaskID) }

func (a *DelegateTaskAccountArgs) decode(r *codec.Reader) { a.TaskID = r.U64() }

type UndelegateTaskAccountArgs struct{}

func (UndelegateTaskAccountArgs) Name() Name            { return UndelegateTaskAccount }
func (UndelegateTaskAccountArgs) encode(*codec.Writer)  {}
func (*UndelegateTaskAccountArgs) decode(*codec.Reader) {}

// CommitDelegatedStateArgs carries the session's committed task record and
// the response records it created, both in account layout.
type CommitDelegatedStateArgs struct {
	DelegationSlot uint64
	Task           []byte
	Responses      [][]byte
}

func (CommitDelegatedStateArgs) Name() Name { return CommitDelegatedState }

func (a CommitDelegatedStateArgs) encode(w *codec.Writer) {
	w.U64(a.DelegationSlot)
	w.ByteString(a.Task)
	w.U32(uint32(len(a.Responses)))
	for _, resp := range a.Responses {
		w.ByteString(resp)
	}
}

func (a *CommitDelegatedStateArgs) decode(r *codec.Reader) {
	a.DelegationSlot = r.U64()
	a.Task = r.ByteString((&account.Task{}).Space())
	n := r.Count(account.MaxBufferedResponses)
	a.Responses = make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		a.Responses = append(a.Responses, r.ByteString((&account.Response{}).Space()))
	}
}

type ProcessUndelegationArgs struct {
	AccountSeeds [][]byte
}

func (ProcessUndelegationArgs) Name() Name { return ProcessUndelegation }

func (a ProcessUndelegationArgs) encode(w *codec.Writer) {
	w.U32(uint32(len(a.AccountSeeds)))
	for _, seed := range a.AccountSeeds {
		w.ByteString(seed)
	}
}

func (a *ProcessUndelegationArgs) decode(r *codec.Reader) {
	n := r.Count(address.MaxSeeds)
	a.AccountSeeds = make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		a.AccountSeeds = append(a.AccountSeeds, r.ByteString(address.MaxSeedLen))
	}
}
