package filter

import "fmt"

// Pipeline is an ordered list of filters applied to every chunk.
type Pipeline struct {
	specs   []Spec
	filters []Filter
}

// NewPipeline creates a pipeline from filter specs.
func NewPipeline(specs []Spec) (*Pipeline, error) {
	p := &Pipeline{
		specs:   append([]Spec(nil), specs...),
		filters: make([]Filter, 0, len(specs)),
	}
	for _, spec := range specs {
		f, err := New(spec)
		if err != nil {
			return nil, fmt.Errorf("creating %s filter: %w", spec.ID, err)
		}
		p.filters = append(p.filters, f)
	}
	return p, nil
}

// Encode applies the filters in order.
func (p *Pipeline) Encode(input []byte) ([]byte, error) {
	data := input
	for _, f := range p.filters {
		var err error
		data, err = f.Encode(data)
		if err != nil {
			return nil, fmt.Errorf("%s encode: %w", f.ID(), err)
		}
	}
	return data, nil
}

// Decode applies the filters in reverse order (last filter first).
func (p *Pipeline) Decode(input []byte) ([]byte, error) {
	data := input
	for i := len(p.filters) - 1; i >= 0; i-- {
		var err error
		data, err = p.filters[i].Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s decode: %w", p.filters[i].ID(), err)
		}
	}
	return data, nil
}

// DecodeMask is Decode with filter i skipped when bit i of mask is set.
func (p *Pipeline) DecodeMask(input []byte, mask uint32) ([]byte, error) {
	data := input
	for i := len(p.filters) - 1; i >= 0; i-- {
		if i < 32 && mask&(1<<uint(i)) != 0 {
			continue
		}
		var err error
		data, err = p.filters[i].Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s decode: %w", p.filters[i].ID(), err)
		}
	}
	return data, nil
}

// Specs returns the filter specs the pipeline was built from.
func (p *Pipeline) Specs() []Spec {
	return append([]Spec(nil), p.specs...)
}

// Empty returns true if the pipeline has no filters.
func (p *Pipeline) Empty() bool {
	return len(p.filters) == 0
}

// Len returns the number of filters in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.filters)
}
