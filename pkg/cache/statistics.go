package cache

import "google.golang.org/protobuf/types/known/structpb"

// Statistics is the per-scope statistics record. Size is always reported; Counters are backend specific, e.g. the
// clock store reports hits, misses and evictions.
type Statistics struct {
	Size     int
	Counters map[ /*counter*/ string]int64
}

// Counter returns the named counter and whether the backend reports it.
func (s Statistics) Counter(name string) (int64, bool) {
	value, found := s.Counters[name]
	return value, found
}

// AsStruct renders the statistics as a protobuf Struct, e.g. to serve it as JSON.
func (s Statistics) AsStruct() (*structpb.Struct, error) {
	fields := make(map[string]any, len(s.Counters)+1)
	for name, value := range s.Counters {
		fields[name] = value
	}
	fields["size"] = s.Size
	return structpb.NewStruct(fields)
}
