package pipeline

import (
	"fmt"

	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

// Report is the ordered list of frame records of one request.
type Report []types.FrameRecord

// Aggregator collects frame records in generation order.
type Aggregator struct {
	records Report
}

// NewAggregator returns an aggregator sized for n frames.
func NewAggregator(n int) *Aggregator {
	return &Aggregator{records: make(Report, 0, max(n, 0))}
}

// Add appends rec. Records must arrive with strictly increasing frame
// indices.
func (a *Aggregator) Add(rec types.FrameRecord) error {
	if n := len(a.records); n > 0 && rec.FrameIndex <= a.records[n-1].FrameIndex {
		return fmt.Errorf("frame %d recorded after frame %d", rec.FrameIndex, a.records[n-1].FrameIndex)
	}
	a.records = append(a.records, rec)
	return nil
}

// Len returns the number of records collected so far.
func (a *Aggregator) Len() int {
	return len(a.records)
}

// Report returns the collected records.
func (a *Aggregator) Report() Report {
	return a.records
}

// Detections returns the total number of detections across all records.
func (r Report) Detections() int {
	n := 0
	for _, rec := range r {
		n += rec.Count
	}
	return n
}
