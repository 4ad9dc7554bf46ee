package instruction

import (
	"errors"
	"fmt"
	"sort"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/codec"
)

// AccountSpec declares one positional account of an instruction.
type AccountSpec struct {
	Name     string
	Writable bool
	Signer   bool
}

// Definition registers the layout of one instruction.
type Definition struct {
	Name     Name
	Accounts []AccountSpec
	// Remaining allows trailing accounts beyond the declared ones.
	Remaining bool
	NewArgs   func() Args
}

// Decoded is an instruction that passed structural validation.
type Decoded struct {
	Definition Definition
	Args       Args
}

// Registry stores instruction definitions keyed by opcode.
type Registry struct {
	definitions map[[OpcodeSize]byte]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[[OpcodeSize]byte]Definition)}
}

// Register adds an instruction definition.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	if def.Name == "" {
		return errors.New("instruction name is required")
	}
	if def.NewArgs == nil {
		return fmt.Errorf("instruction %s: args constructor is required", def.Name)
	}
	if got := def.NewArgs().Name(); got != def.Name {
		return fmt.Errorf("instruction %s: args are for %s", def.Name, got)
	}
	if r.definitions == nil {
		r.definitions = make(map[[OpcodeSize]byte]Definition)
	}
	op := Opcode(def.Name)
	if _, exists := r.definitions[op]; exists {
		return fmt.Errorf("instruction already registered: %s", def.Name)
	}
	r.definitions[op] = def
	return nil
}

// Definition returns the definition registered under name.
func (r *Registry) Definition(name Name) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[Opcode(name)]
	return def, ok
}

// ListDefinitions returns all definitions sorted by name.
func (r *Registry) ListDefinitions() []Definition {
	if r == nil {
		return nil
	}
	out := make([]Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Decode dispatches data by opcode, decodes its arguments and checks the
// supplied accounts against the declared specs.
func (r *Registry) Decode(data []byte, metas []AccountMeta) (Decoded, error) {
	if len(data) < OpcodeSize {
		return Decoded{}, apperrors.New(apperrors.CodeInstructionMissing, fmt.Sprintf("%d bytes", len(data)))
	}
	var op [OpcodeSize]byte
	copy(op[:], data[:OpcodeSize])
	def, ok := r.definitions[op]
	if !ok {
		return Decoded{}, apperrors.New(apperrors.CodeInstructionFallbackNotFound, fmt.Sprintf("opcode %x", op))
	}

	args := def.NewArgs()
	reader := codec.NewReader(data[OpcodeSize:])
	args.decode(reader)
	if err := reader.Finish(); err != nil {
		return Decoded{}, apperrors.Wrap(apperrors.CodeInstructionDidNotDeserialize, string(def.Name), err)
	}

	if len(metas) < len(def.Accounts) {
		return Decoded{}, apperrors.New(apperrors.CodeAccountNotEnoughKeys,
			fmt.Sprintf("%s: %d accounts, want %d", def.Name, len(metas), len(def.Accounts)))
	}
	if !def.Remaining && len(metas) > len(def.Accounts) {
		return Decoded{}, apperrors.New(apperrors.CodeInstructionDidNotDeserialize,
			fmt.Sprintf("%s: %d accounts, want %d", def.Name, len(metas), len(def.Accounts)))
	}
	for i, spec := range def.Accounts {
		meta := metas[i]
		if spec.Writable && !meta.IsWritable {
			return Decoded{}, apperrors.New(apperrors.CodeConstraintMut, fmt.Sprintf("%s: %s", def.Name, spec.Name))
		}
		if spec.Signer && !meta.IsSigner {
			return Decoded{}, apperrors.New(apperrors.CodeAccountNotSigner, fmt.Sprintf("%s: %s", def.Name, spec.Name))
		}
	}
	return Decoded{Definition: def, Args: args}, nil
}

func mut(name string) AccountSpec       { return AccountSpec{Name: name, Writable: true} }
func ro(name string) AccountSpec        { return AccountSpec{Name: name} }
func mutSigner(name string) AccountSpec { return AccountSpec{Name: name, Writable: true, Signer: true} }
func signer(name string) AccountSpec    { return AccountSpec{Name: name, Signer: true} }

// Definitions returns the escrow program's instruction set.
func Definitions() []Definition {
	return []Definition{
		{Name: InitAdmin, Accounts: []AccountSpec{mut("admin"), mutSigner("authority"), ro("system_program")},
			NewArgs: func() Args { return &InitAdminArgs{} }},
		{Name: CreateTask, Accounts: []AccountSpec{mut("task"), mutSigner("creator"), ro("system_program")},
			NewArgs: func() Args { return &CreateTaskArgs{} }},
		{Name: UpdateTask, Accounts: []AccountSpec{mut("task"), signer("creator")},
			NewArgs: func() Args { return &UpdateTaskArgs{} }},
		{Name: DepositFunds, Accounts: []AccountSpec{ro("task"), mut("vault"), ro("admin"), mut("admin_authority"), mutSigner("creator"), ro("system_program")},
			NewArgs: func() Args { return &DepositFundsArgs{} }},
		{Name: SubmitResponse, Accounts: []AccountSpec{mut("task"), mut("response"), mutSigner("responder"), ro("system_program")},
			NewArgs: func() Args { return &SubmitResponseArgs{} }},
		{Name: VerifyResponse, Accounts: []AccountSpec{ro("admin"), mut("response"), ro("task"), signer("authority")},
			NewArgs: func() Args { return &VerifyResponseArgs{} }},
		{Name: DisburseRewards, Accounts: []AccountSpec{ro("admin"), ro("task"), mut("vault"), mut("response"), mut("recipient"), signer("authority")},
			NewArgs: func() Args { return &DisburseRewardsArgs{} }},
		{Name: MarkTaskComplete, Accounts: []AccountSpec{mut("task"), ro("admin"), signer("signer")},
			NewArgs: func() Args { return &MarkTaskCompleteArgs{} }},
		{Name: RefundRemaining, Accounts: []AccountSpec{mut("task"), mut("vault"), mutSigner("creator")},
			NewArgs: func() Args { return &RefundRemainingArgs{} }},
		{Name: CancelTask, Accounts: []AccountSpec{mut("task"), mut("vault"), mutSigner("creator")},
			NewArgs: func() Args { return &CancelTaskArgs{} }},
		{Name: DelegateTaskAccount, Accounts: []AccountSpec{mut("task"), mut("buffer"), mut("delegation_record"), mut("delegation_metadata"), mutSigner("creator"), ro("session_authority"), ro("system_program")},
			NewArgs: func() Args { return &DelegateTaskAccountArgs{} }},
		{Name: UndelegateTaskAccount, Accounts: []AccountSpec{signer("creator"), mut("task")},
			NewArgs: func() Args { return &UndelegateTaskAccountArgs{} }},
		{Name: CommitDelegatedState, Accounts: []AccountSpec{mut("buffer"), ro("delegation_record"), ro("task"), mutSigner("authority"), ro("system_program")},
			NewArgs: func() Args { return &CommitDelegatedStateArgs{} }},
		{Name: ProcessUndelegation, Accounts: []AccountSpec{mut("task"), mut("buffer"), mut("delegation_record"), mut("delegation_metadata"), mutSigner("authority"), mut("rent_payer"), ro("system_program")},
			Remaining: true, NewArgs: func() Args { return &ProcessUndelegationArgs{} }},
	}
}

// NewEscrowRegistry returns a registry holding Definitions.
func NewEscrowRegistry() *Registry {
	reg := NewRegistry()
	for _, def := range Definitions() {
		if err := reg.Register(def); err != nil {
			panic(err)
		}
	}
	return reg
}
