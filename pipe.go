package cubestream

import (
	"context"
	"fmt"
)

// Pipe composes verbs as a pure fold: NewPipe(x).Then(ctx, a).Then(ctx, b)
// is Apply(b, Apply(a, x)). Each stage accepts either capability, eager or
// virtual, so chains remain valid no matter which stage first returns a
// VirtualCube. The first error short-circuits the remaining stages and is
// reported by Result.
//
// A Pipe holds no hidden state: every stage is a pure function of its
// input and the verb's configuration, so a chain is replayable and its
// stages individually testable.
type Pipe struct {
	ds  Dataset
	err error
}

// NewPipe wraps a dataset for verb composition.
func NewPipe(ds Dataset) *Pipe {
	return &Pipe{ds: ds}
}

// Then applies the next verb, returning a new Pipe. After an earlier
// failure it is a no-op carrying the error forward.
func (p *Pipe) Then(ctx context.Context, v Verb) *Pipe {
	if p.err != nil {
		return p
	}
	out, err := Apply(ctx, v, p.ds)
	if err != nil {
		return &Pipe{err: err}
	}
	return &Pipe{ds: out}
}

// Result returns the final dataset or the first error.
func (p *Pipe) Result() (Dataset, error) {
	return p.ds, p.err
}

// Cube returns the final dataset as an eager cube. It fails if the chain
// errored or the final stage is still virtual; call Materialize on the
// result of Result in that case.
func (p *Pipe) Cube() (*Cube, error) {
	if p.err != nil {
		return nil, p.err
	}
	c, ok := p.ds.(*Cube)
	if !ok {
		return nil, &ConfigurationError{
			Field:  "pipe",
			Reason: fmt.Sprintf("final stage is %T, not an eager cube", p.ds),
		}
	}
	return c, nil
}
