package confirm

import (
	"fmt"
	"time"

	"SweepSentinel/internal/model"
)

// Result lists every violation found; Valid is true only when Errors is empty.
type Result struct {
	Valid  bool
	Errors []string
}

func (r *Result) addf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) done() Result {
	r.Valid = len(r.Errors) == 0
	return *r
}

// Structural checks that a loaded record is internally consistent: known
// enums, stage payloads present, sane prices and strictly ordered stage times.
// It does not look at the clock.
func Structural(seq *model.Sequence) Result {
	var r Result
	checkStructure(seq, &r)
	return r.done()
}

// Validate runs Structural plus the age limit at now and, once a break is
// recorded, price-action consistency against the change price.
func Validate(seq *model.Sequence, now time.Time) Result {
	var r Result
	if !checkStructure(seq, &r) {
		return r.done()
	}
	if age := seq.Age(now); age > model.SequenceTTL {
		r.addf("age %s exceeds %s", age.Truncate(time.Second), model.SequenceTTL)
	}
	if seq.Change != nil && seq.Break != nil {
		switch seq.Bias {
		case model.BiasBullish:
			if !seq.Break.Price.GreaterThan(seq.Change.Price) {
				r.addf("bullish break %s not above change %s", seq.Break.Price, seq.Change.Price)
			}
		case model.BiasBearish:
			if !seq.Break.Price.LessThan(seq.Change.Price) {
				r.addf("bearish break %s not below change %s", seq.Break.Price, seq.Change.Price)
			}
		}
	}
	return r.done()
}

// checkStructure appends violations to r and reports whether seq was non-nil.
func checkStructure(seq *model.Sequence, r *Result) bool {
	if seq == nil {
		r.addf("sequence is nil")
		return false
	}
	if seq.ID == "" {
		r.addf("missing id")
	}
	if seq.SweepID == "" {
		r.addf("missing sweep id")
	}
	if !seq.Bias.Valid() {
		r.addf("unknown bias %q", seq.Bias)
	}
	if !seq.Stage.Valid() {
		r.addf("unknown stage %q", seq.Stage)
	}
	if seq.CreatedAt.IsZero() {
		r.addf("missing created_at")
	}

	checkShape(seq, r)

	if seq.Change != nil && !seq.Change.Price.IsPositive() {
		r.addf("change price %s not positive", seq.Change.Price)
	}
	if seq.Gap != nil {
		if !seq.Gap.Low.IsPositive() || !seq.Gap.High.IsPositive() {
			r.addf("gap zone [%s,%s] has non-positive bound", seq.Gap.Low, seq.Gap.High)
		}
		if !seq.Gap.Low.LessThan(seq.Gap.High) {
			r.addf("gap zone low %s not below high %s", seq.Gap.Low, seq.Gap.High)
		}
	}
	if seq.Fill != nil && !seq.Fill.Price.IsPositive() {
		r.addf("fill price %s not positive", seq.Fill.Price)
	}
	if seq.Break != nil && !seq.Break.Price.IsPositive() {
		r.addf("break price %s not positive", seq.Break.Price)
	}

	checkOrder(seq, r)
	return true
}

// checkShape ties each stage to the payloads it must and must not carry.
func checkShape(seq *model.Sequence, r *Result) {
	need := func(present bool, what string) {
		if !present {
			r.addf("stage %s requires %s", seq.Stage, what)
		}
	}
	forbid := func(present bool, what string) {
		if present {
			r.addf("stage %s must not carry %s", seq.Stage, what)
		}
	}
	switch seq.Stage {
	case model.StageAwaitingChange:
		forbid(seq.Change != nil, "change")
		forbid(seq.Gap != nil, "gap zone")
		forbid(seq.Fill != nil, "fill")
		forbid(seq.Break != nil, "break")
	case model.StageAwaitingGap:
		need(seq.Change != nil, "change")
		forbid(seq.Fill != nil, "fill")
		forbid(seq.Break != nil, "break")
	case model.StageAwaitingBreak:
		need(seq.Change != nil, "change")
		need(seq.Gap != nil, "gap zone")
		need(seq.Fill != nil, "fill")
		forbid(seq.Break != nil, "break")
	case model.StageComplete:
		need(seq.Change != nil, "change")
		need(seq.Gap != nil, "gap zone")
		need(seq.Fill != nil, "fill")
		need(seq.Break != nil, "break")
	}
	if seq.Fill != nil && seq.Gap == nil {
		r.addf("fill recorded without gap zone")
	}
}

// checkOrder requires change < zone formed < fill < break, strictly.
func checkOrder(seq *model.Sequence, r *Result) {
	type stamp struct {
		name string
		at   time.Time
	}
	var stamps []stamp
	if seq.Change != nil {
		stamps = append(stamps, stamp{"change", seq.Change.Time})
	}
	if seq.Gap != nil {
		stamps = append(stamps, stamp{"gap", seq.Gap.FormedAt})
	}
	if seq.Fill != nil {
		stamps = append(stamps, stamp{"fill", seq.Fill.Time})
	}
	if seq.Break != nil {
		stamps = append(stamps, stamp{"break", seq.Break.Time})
	}
	for i, s := range stamps {
		if s.at.IsZero() {
			r.addf("%s time missing", s.name)
		}
		if i > 0 && !s.at.After(stamps[i-1].at) {
			r.addf("%s time %s not after %s time %s",
				s.name, s.at.Format(time.RFC3339), stamps[i-1].name, stamps[i-1].at.Format(time.RFC3339))
		}
	}
}
