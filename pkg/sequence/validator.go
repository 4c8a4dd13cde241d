package sequence

import (
	"github.com/jdziat/simple-process-tracking/pkg/catalog"
	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// DefaultMaxRework is the rework budget of a serialized item.
const DefaultMaxRework = 3

// Validator enforces ordering and re-attempt rules.
type Validator struct {
	// MaxRework bounds how many rework attempts a serialized item may start.
	MaxRework int
}

// New creates a validator. A negative maxRework selects DefaultMaxRework.
func New(maxRework int) *Validator {
	if maxRework < 0 {
		maxRework = DefaultMaxRework
	}
	return &Validator{MaxRework: maxRework}
}

// StartCheck is everything CanStart needs to decide.
type StartCheck struct {
	Unit      core.Unit
	Operation *core.Operation
	Catalog   *catalog.Snapshot

	// Attempts are the unit's own attempts at Operation.
	Attempts []core.Attempt
	// PredecessorAttempts are the attempts of the unit's lineage at the
	// predecessor of Operation. Ignored when Operation has no predecessor.
	PredecessorAttempts []core.Attempt
}

// StartDecision describes an allowed start.
type StartDecision struct {
	Predecessor *core.Operation
	// Rework is set when a prior attempt for the pair closed without PASS.
	Rework bool
}

// CanStart checks, in order: the item was not converted, the operation
// belongs to the unit's block, the pair has not passed, the predecessor's
// latest attempt passed, and the rework budget is not spent.
func (v *Validator) CanStart(c StartCheck) (StartDecision, error) {
	const op = "sequence.can_start"
	if c.Operation == nil || c.Catalog == nil {
		return StartDecision{}, core.NewError(core.KindInternal, op, "start check without operation or catalog", nil)
	}
	g := c.Unit.Ref.Granularity

	if g == core.GranularityInProcess && c.Unit.Item != nil && c.Unit.Item.Converted() {
		return StartDecision{}, core.Errorf(core.KindInvalidState, op,
			"item %s was converted to serialized item %s", c.Unit.Item.ID, *c.Unit.Item.SerialID)
	}

	if !c.Catalog.Allows(g, c.Operation) {
		return StartDecision{}, core.Errorf(core.KindSequenceViolation, op,
			"operation %s is outside the %s block", c.Operation.Code, blockName(g))
	}

	if passed := Passed(c.Attempts); passed != nil {
		return StartDecision{}, core.Errorf(core.KindAlreadyPassed, op,
			"%s already passed %s in attempt %d", c.Unit.Ref, c.Operation.Code, passed.ID)
	}

	pred := c.Catalog.Predecessor(c.Operation)
	if pred != nil {
		if err := CheckPredecessor(pred, Latest(c.PredecessorAttempts)); err != nil {
			return StartDecision{}, err
		}
	}

	rework := IsRework(c.Attempts)
	if rework && g == core.GranularitySerialized && c.Unit.Serial != nil &&
		c.Unit.Serial.ReworkCount >= v.MaxRework {
		return StartDecision{}, core.Errorf(core.KindReworkLimit, op,
			"serialized item %s used %d of %d reworks", c.Unit.Serial.SerialNumber, c.Unit.Serial.ReworkCount, v.MaxRework)
	}

	return StartDecision{Predecessor: pred, Rework: rework}, nil
}

// CanComplete checks that the attempt is open and the result is known.
func (v *Validator) CanComplete(a *core.Attempt, result core.Result) error {
	const op = "sequence.can_complete"
	if a == nil {
		return core.NewError(core.KindNotFound, op, "attempt not found", nil)
	}
	if !a.Open() {
		return core.Errorf(core.KindInvalidState, op, "attempt %d is already closed with %s", a.ID, a.Result)
	}
	if !result.IsValid() {
		return core.Errorf(core.KindValidation, op, "unknown result %q", result)
	}
	return nil
}

// CheckPredecessor requires the latest closed attempt at pred to be a PASS.
// A nil pred means the operation is first and always satisfied.
func CheckPredecessor(pred *core.Operation, latest *core.Attempt) error {
	if pred == nil {
		return nil
	}
	const op = "sequence.predecessor"
	if latest == nil {
		return core.Errorf(core.KindSequenceViolation, op, "predecessor %s has no closed attempt", pred.Code)
	}
	if !latest.Result.Passed() {
		return core.Errorf(core.KindSequenceViolation, op,
			"latest attempt %d at predecessor %s closed with %s", latest.ID, pred.Code, latest.Result)
	}
	return nil
}

func blockName(g core.Granularity) string {
	if g == core.GranularitySerialized {
		return "serial"
	}
	return "item"
}
