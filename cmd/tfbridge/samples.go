package main

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var instruments = []string{"frame_time", "cpu_time", "raw_frame_time"}

// sampleEvent builds a serialized telemetry record: a frame time histogram
// for one instrument, stamped with a unique id.
func sampleEvent(i int) ([]byte, error) {
	buckets := make([]any, 8)
	for b := range buckets {
		buckets[b] = float64((i + 1) * (b + 1) % 13)
	}

	rec, err := structpb.NewStruct(map[string]any{
		"id":         ulid.Make().String(),
		"instrument": instruments[i%len(instruments)],
		"sequence":   float64(i),
		"time":       time.Now().UTC().Format(time.RFC3339Nano),
		"histogram":  buckets,
	})
	if err != nil {
		return nil, fmt.Errorf("build sample %d: %w", i, err)
	}

	data, err := proto.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal sample %d: %w", i, err)
	}
	return data, nil
}
