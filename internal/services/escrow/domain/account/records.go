package account

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/codec"
)

// DiscriminatorSize is the byte length of the record type tag.
const DiscriminatorSize = 8

// MaxContentReference caps content reference strings.
const MaxContentReference = 100

// MaxSeedsRecorded caps the seeds kept in delegation metadata.
const MaxSeedsRecorded = 4

// MaxBufferedResponses caps the response records a delegation buffer carries.
const MaxBufferedResponses = 1024

// Kind names a record layout.
type Kind string

const (
	KindAdminRegistry      Kind = "AdminRegistry"
	KindTask               Kind = "Task"
	KindRewardVault        Kind = "RewardVault"
	KindResponse           Kind = "Response"
	KindDelegationRecord   Kind = "DelegationRecord"
	KindDelegationMetadata Kind = "DelegationMetadata"
	KindDelegationBuffer   Kind = "DelegationBuffer"
)

var kinds = []Kind{
	KindAdminRegistry,
	KindTask,
	KindRewardVault,
	KindResponse,
	KindDelegationRecord,
	KindDelegationMetadata,
	KindDelegationBuffer,
}

// Discriminator returns the 8-byte tag for a record kind.
func Discriminator(kind Kind) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + string(kind)))
	var out [DiscriminatorSize]byte
	copy(out[:], sum[:DiscriminatorSize])
	return out
}

// KindOf reports the record kind stored in data.
func KindOf(data []byte) (Kind, bool) {
	if len(data) < DiscriminatorSize {
		return "", false
	}
	for _, kind := range kinds {
		disc := Discriminator(kind)
		if bytes.Equal(data[:DiscriminatorSize], disc[:]) {
			return kind, true
		}
	}
	return "", false
}

// Record is a typed account layout.
type Record interface {
	Kind() Kind
	// Space is the allocated data length, discriminator included.
	Space() int
	encode(w *codec.Writer)
	decode(r *codec.Reader)
}

// Encode serializes rec, zero-padded to its allocated space.
func Encode(rec Record) []byte {
	space := rec.Space()
	w := codec.NewWriter(space)
	disc := Discriminator(rec.Kind())
	w.Raw(disc[:])
	rec.encode(w)
	w.PadTo(space)
	return w.Bytes()
}

// Decode parses data into rec. Padding after the last field is ignored.
func Decode(data []byte, rec Record) error {
	if len(data) < DiscriminatorSize {
		return apperrors.New(apperrors.CodeAccountDiscriminatorNotFound, fmt.Sprintf("%s: %d bytes", rec.Kind(), len(data)))
	}
	disc := Discriminator(rec.Kind())
	if !bytes.Equal(data[:DiscriminatorSize], disc[:]) {
		return apperrors.New(apperrors.CodeAccountDiscriminatorMismatch, string(rec.Kind()))
	}
	r := codec.NewReader(data[DiscriminatorSize:])
	rec.decode(r)
	if err := r.Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeAccountDidNotDeserialize, string(rec.Kind()), err)
	}
	return nil
}

// Delegation is the two-context state tag of a task.
type Delegation uint8

const (
	Local     Delegation = 0
	Delegated Delegation = 1
)

func (d Delegation) String() string {
	switch d {
	case Local:
		return "Local"
	case Delegated:
		return "Delegated"
	default:
		return fmt.Sprintf("Delegation(%d)", uint8(d))
	}
}

// AdminRegistry names the single authority allowed to verify and disburse.
type AdminRegistry struct {
	Authority address.Address
	Bump      uint8
}

func (*AdminRegistry) Kind() Kind { return KindAdminRegistry }
func (*AdminRegistry) Space() int { return DiscriminatorSize + 32 + 1 }

func (a *AdminRegistry) encode(w *codec.Writer) {
	w.Address(a.Authority)
	w.U8(a.Bump)
}

func (a *AdminRegistry) decode(r *codec.Reader) {
	a.Authority = r.Address()
	a.Bump = r.U8()
}

// Task is a bounty owned by its creator.
type Task struct {
	TaskID            uint64
	Creator           address.Address
	RewardPerResponse uint64
	MaxResponses      uint16
	Deadline          int64
	ResponsesReceived uint16
	IsComplete        bool
	Delegation        Delegation
	Bump              uint8
	ContentReference  string
}

// taskBodySpace is the task layout without its discriminator.
const taskBodySpace = 8 + 32 + 8 + 2 + 8 + 2 + 1 + 1 + 1 + 4 + MaxContentReference

func (*Task) Kind() Kind { return KindTask }
func (*Task) Space() int { return DiscriminatorSize + taskBodySpace }

func (t *Task) encode(w *codec.Writer) {
	w.U64(t.TaskID)
	w.Address(t.Creator)
	w.U64(t.RewardPerResponse)
	w.U16(t.MaxResponses)
	w.I64(t.Deadline)
	w.U16(t.ResponsesReceived)
	w.Bool(t.IsComplete)
	w.U8(uint8(t.Delegation))
	w.U8(t.Bump)
	w.String(t.ContentReference)
}

func (t *Task) decode(r *codec.Reader) {
	t.TaskID = r.U64()
	t.Creator = r.Address()
	t.RewardPerResponse = r.U64()
	t.MaxResponses = r.U16()
	t.Deadline = r.I64()
	t.ResponsesReceived = r.U16()
	t.IsComplete = r.Bool()
	t.Delegation = Delegation(r.U8())
	t.Bump = r.U8()
	t.ContentReference = r.String(MaxContentReference)
}

// IsFull reports whether the task accepted its last response.
func (t *Task) IsFull() bool {
	return t.ResponsesReceived >= t.MaxResponses
}

// RewardVault accounts the escrowed balance of one task. The vault's
// lamports always equal its rent minimum plus Balance.
type RewardVault struct {
	TaskBump uint8
	Balance  uint64
	Bump     uint8
}

func (*RewardVault) Kind() Kind { return KindRewardVault }
func (*RewardVault) Space() int { return DiscriminatorSize + 1 + 8 + 1 }

func (v *RewardVault) encode(w *codec.Writer) {
	w.U8(v.TaskBump)
	w.U64(v.Balance)
	w.U8(v.Bump)
}

func (v *RewardVault) decode(r *codec.Reader) {
	v.TaskBump = r.U8()
	v.Balance = r.U64()
	v.Bump = r.U8()
}

// Response is one responder's submission to a task.
type Response struct {
	TaskBump         uint8
	Responder        address.Address
	Timestamp        int64
	IsVerified       bool
	IsPaid           bool
	Bump             uint8
	ContentReference string
}

const responseBodySpace = 1 + 32 + 8 + 1 + 1 + 1 + 4 + MaxContentReference

func (*Response) Kind() Kind { return KindResponse }
func (*Response) Space() int { return DiscriminatorSize + responseBodySpace }

func (p *Response) encode(w *codec.Writer) {
	w.U8(p.TaskBump)
	w.Address(p.Responder)
	w.I64(p.Timestamp)
	w.Bool(p.IsVerified)
	w.Bool(p.IsPaid)
	w.U8(p.Bump)
	w.String(p.ContentReference)
}

func (p *Response) decode(r *codec.Reader) {
	p.TaskBump = r.U8()
	p.Responder = r.Address()
	p.Timestamp = r.I64()
	p.IsVerified = r.Bool()
	p.IsPaid = r.Bool()
	p.Bump = r.U8()
	p.ContentReference = r.String(MaxContentReference)
}

// DelegationRecord marks a task as handed to a session authority.
type DelegationRecord struct {
	Authority      address.Address
	OwnerProgram   address.Address
	DelegationSlot uint64
	DelegatedAt    int64
	Bump           uint8
}

func (*DelegationRecord) Kind() Kind { return KindDelegationRecord }
func (*DelegationRecord) Space() int { return DiscriminatorSize + 32 + 32 + 8 + 8 + 1 }

func (d *DelegationRecord) encode(w *codec.Writer) {
	w.Address(d.Authority)
	w.Address(d.OwnerProgram)
	w.U64(d.DelegationSlot)
	w.I64(d.DelegatedAt)
	w.U8(d.Bump)
}

func (d *DelegationRecord) decode(r *codec.Reader) {
	d.Authority = r.Address()
	d.OwnerProgram = r.Address()
	d.DelegationSlot = r.U64()
	d.DelegatedAt = r.I64()
	d.Bump = r.U8()
}

// DelegationMetadata keeps what reconciliation needs to restore the task.
type DelegationMetadata struct {
	Seeds     [][]byte
	RentPayer address.Address
	Bump      uint8
}

func (*DelegationMetadata) Kind() Kind { return KindDelegationMetadata }
func (*DelegationMetadata) Space() int {
	return DiscriminatorSize + 4 + MaxSeedsRecorded*(4+address.MaxSeedLen) + 32 + 1
}

func (m *DelegationMetadata) encode(w *codec.Writer) {
	w.U32(uint32(len(m.Seeds)))
	for _, seed := range m.Seeds {
		w.ByteString(seed)
	}
	w.Address(m.RentPayer)
	w.U8(m.Bump)
}

func (m *DelegationMetadata) decode(r *codec.Reader) {
	n := r.Count(MaxSeedsRecorded)
	m.Seeds = make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		m.Seeds = append(m.Seeds, r.ByteString(address.MaxSeedLen))
	}
	m.RentPayer = r.Address()
	m.Bump = r.U8()
}

// DelegationBuffer carries the delegation-time snapshot of a task and, once
// the session commits, the committed task and its new responses.
type DelegationBuffer struct {
	Snapshot   Task
	Committed  bool
	CommitSlot uint64
	Task       Task
	Responses  []Response
}

// BufferSpace returns the data length of a buffer holding n responses.
func BufferSpace(n int) int {
	return DiscriminatorSize + taskBodySpace + 1 + 8 + taskBodySpace + 4 + n*responseBodySpace
}

func (*DelegationBuffer) Kind() Kind   { return KindDelegationBuffer }
func (b *DelegationBuffer) Space() int { return BufferSpace(len(b.Responses)) }

func (b *DelegationBuffer) encode(w *codec.Writer) {
	encodePadded(w, &b.Snapshot, taskBodySpace)
	w.Bool(b.Committed)
	w.U64(b.CommitSlot)
	encodePadded(w, &b.Task, taskBodySpace)
	w.U32(uint32(len(b.Responses)))
	for i := range b.Responses {
		encodePadded(w, &b.Responses[i], responseBodySpace)
	}
}

func (b *DelegationBuffer) decode(r *codec.Reader) {
	decodePadded(r, &b.Snapshot, taskBodySpace)
	b.Committed = r.Bool()
	b.CommitSlot = r.U64()
	decodePadded(r, &b.Task, taskBodySpace)
	n := r.Count(MaxBufferedResponses)
	b.Responses = make([]Response, n)
	for i := range b.Responses {
		decodePadded(r, &b.Responses[i], responseBodySpace)
	}
}

// encodePadded writes an embedded record body in a fixed-width slot.
func encodePadded(w *codec.Writer, rec Record, width int) {
	start := w.Len()
	rec.encode(w)
	w.PadTo(start + width)
}

func decodePadded(r *codec.Reader, rec Record, width int) {
	slot := r.Raw(width)
	if r.Err() != nil {
		return
	}
	inner := codec.NewReader(slot)
	rec.decode(inner)
	if err := inner.Err(); err != nil {
		r.Fail(err)
	}
}
