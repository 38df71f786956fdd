package materialize

import "github.com/agentic-research/structra/api"

// Sink receives one outcome per processed entry. Implementations must not
// block for long; the materializer calls Record synchronously.
type Sink interface {
	Record(o api.Outcome)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(o api.Outcome)

func (f SinkFunc) Record(o api.Outcome) { f(o) }

type nopSink struct{}

func (nopSink) Record(api.Outcome) {}

type multiSink []Sink

func (m multiSink) Record(o api.Outcome) {
	for _, s := range m {
		s.Record(o)
	}
}

// Sinks fans outcomes out to every non-nil sink. With no usable sinks the
// result discards everything.
func Sinks(sinks ...Sink) Sink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return nopSink{}
	case 1:
		return out[0]
	}
	return out
}
