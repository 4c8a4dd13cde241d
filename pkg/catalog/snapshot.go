package catalog

import (
	"sort"
	"strings"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// Snapshot is a point-in-time view of the catalog.
type Snapshot struct {
	active     []core.Operation
	byID       map[string]core.Operation
	byCode     map[string]core.Operation
	byPosition map[int]int // position -> index into active
	conversion int         // index into active, -1 when absent
}

// NewSnapshot builds a snapshot from every catalog entry, active or not.
// Two active operations sharing a position is a constraint violation.
func NewSnapshot(ops []core.Operation) (*Snapshot, error) {
	s := &Snapshot{
		byID:       make(map[string]core.Operation, len(ops)),
		byCode:     make(map[string]core.Operation, len(ops)),
		byPosition: make(map[int]int, len(ops)),
		conversion: -1,
	}
	for _, op := range ops {
		s.byID[op.ID] = op
		s.byCode[op.Code] = op
		if op.Active {
			s.active = append(s.active, op)
		}
	}
	sort.SliceStable(s.active, func(i, j int) bool {
		return s.active[i].Position < s.active[j].Position
	})
	for i, op := range s.active {
		if _, dup := s.byPosition[op.Position]; dup {
			return nil, core.Errorf(core.KindConstraintViolation, "catalog.snapshot",
				"two active operations at position %d", op.Position)
		}
		s.byPosition[op.Position] = i
		if s.conversion < 0 && op.IsConversion() {
			s.conversion = i
		}
	}
	return s, nil
}

// Active returns the active operations ordered by position.
func (s *Snapshot) Active() []core.Operation {
	out := make([]core.Operation, len(s.active))
	copy(out, s.active)
	return out
}

// ByID finds an operation by ID, active or not.
func (s *Snapshot) ByID(id string) (*core.Operation, bool) {
	op, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &op, true
}

// ByCode finds an operation by code, active or not.
func (s *Snapshot) ByCode(code string) (*core.Operation, bool) {
	op, ok := s.byCode[code]
	if !ok {
		return nil, false
	}
	return &op, true
}

// ByPosition finds the active operation at a position.
func (s *Snapshot) ByPosition(position int) (*core.Operation, bool) {
	i, ok := s.byPosition[position]
	if !ok {
		return nil, false
	}
	op := s.active[i]
	return &op, true
}

// Resolve finds the active operation named by ref. The ID wins over the
// code, which wins over the position. Inactive operations cannot be
// started and resolve as not found.
func (s *Snapshot) Resolve(ref core.OperationRef) (*core.Operation, error) {
	const opName = "catalog.resolve"
	if ref.IsZero() {
		return nil, core.NewError(core.KindValidation, opName, "operation reference is empty", nil)
	}

	var op *core.Operation
	var ok bool
	switch {
	case strings.TrimSpace(ref.ID) != "":
		op, ok = s.ByID(ref.ID)
	case strings.TrimSpace(ref.Code) != "":
		op, ok = s.ByCode(ref.Code)
	default:
		op, ok = s.ByPosition(ref.Position)
	}
	if !ok {
		return nil, core.Errorf(core.KindNotFound, opName, "operation %s not found", ref)
	}
	if !op.Active {
		return nil, core.Errorf(core.KindNotFound, opName, "operation %s is inactive", ref)
	}
	return op, nil
}

// First returns the first active operation, or nil for an empty catalog.
func (s *Snapshot) First() *core.Operation {
	if len(s.active) == 0 {
		return nil
	}
	op := s.active[0]
	return &op
}

// Predecessor returns the active operation immediately before op by
// position, or nil when op is the first. op itself need not be active,
// which lets a completion re-check an operation deactivated after start.
func (s *Snapshot) Predecessor(op *core.Operation) *core.Operation {
	var pred *core.Operation
	for i := range s.active {
		if s.active[i].Position >= op.Position {
			break
		}
		p := s.active[i]
		pred = &p
	}
	return pred
}

// Conversion returns the first active identity-conversion operation, or nil.
func (s *Snapshot) Conversion() *core.Operation {
	if s.conversion < 0 {
		return nil
	}
	op := s.active[s.conversion]
	return &op
}

// InItemBlock reports whether op belongs to the pre-serialization block.
func (s *Snapshot) InItemBlock(op *core.Operation) bool {
	conv := s.Conversion()
	return conv == nil || op.Position <= conv.Position
}

// InSerialBlock reports whether op comes after the identity conversion.
func (s *Snapshot) InSerialBlock(op *core.Operation) bool {
	conv := s.Conversion()
	return conv != nil && op.Position > conv.Position
}

// ItemStandardBlock returns the active STANDARD operations of the item block.
func (s *Snapshot) ItemStandardBlock() []core.Operation {
	return s.standard(s.InItemBlock)
}

// SerialStandardBlock returns the active STANDARD operations of the serial block.
func (s *Snapshot) SerialStandardBlock() []core.Operation {
	return s.standard(s.InSerialBlock)
}

// BlockFor returns the STANDARD block that decides the status or counts of
// units of granularity g. Batches count against the item block.
func (s *Snapshot) BlockFor(g core.Granularity) []core.Operation {
	if g == core.GranularitySerialized {
		return s.SerialStandardBlock()
	}
	return s.ItemStandardBlock()
}

// Allows reports whether a unit of granularity g may run op. Batches and
// in-process items run the item block; serialized items run the serial block.
func (s *Snapshot) Allows(g core.Granularity, op *core.Operation) bool {
	if g == core.GranularitySerialized {
		return s.InSerialBlock(op)
	}
	return s.InItemBlock(op)
}

func (s *Snapshot) standard(in func(*core.Operation) bool) []core.Operation {
	var out []core.Operation
	for i := range s.active {
		op := s.active[i]
		if op.Type == core.OperationStandard && in(&op) {
			out = append(out, op)
		}
	}
	return out
}
