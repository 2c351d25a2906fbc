package bulkingest

import "time"

// UnknownTempID is recorded for failed operations that carried no temp_id.
const UnknownTempID = "unknown"

// ProcessedEntry describes one successful operation.
type ProcessedEntry struct {
	TempID     string `json:"temp_id"`
	UUID       string `json:"uuid"`
	RevisionID *int64 `json:"vid,omitempty"`
}

// ErrorEntry describes one failed operation.
type ErrorEntry struct {
	Op      string `json:"op"`
	TempID  string `json:"temp_id"`
	Message string `json:"message"`
}

// KindStats accumulates timing for one operation kind. Times are in seconds.
type KindStats struct {
	Count     int     `json:"count"`
	TotalTime float64 `json:"total_time"`
	AvgTime   float64 `json:"avg_time"`
}

// Stats is the fixed-shape statistics block of a report.
type Stats struct {
	CreateNode      KindStats `json:"create_node"`
	UpdateNode      KindStats `json:"update_node"`
	CreateFile      KindStats `json:"create_file"`
	CreateMedia     KindStats `json:"create_media"`
	TotalOperations int       `json:"total_operations"`
	TotalTime       float64   `json:"total_time"`
}

// ForKind returns the stats slot of a recognized kind, or nil.
func (s *Stats) ForKind(kind OperationKind) *KindStats {
	switch kind {
	case OperationCreateNode:
		return &s.CreateNode
	case OperationUpdateNode:
		return &s.UpdateNode
	case OperationCreateFile:
		return &s.CreateFile
	case OperationCreateMedia:
		return &s.CreateMedia
	}
	return nil
}

// Report is the structured result of one batch run.
type Report struct {
	Processed []ProcessedEntry `json:"processed"`
	Errors    []ErrorEntry     `json:"errors"`
	Stats     Stats            `json:"stats"`
}

// NewReport returns an empty report ready for accumulation.
func NewReport() *Report {
	return &Report{
		Processed: []ProcessedEntry{},
		Errors:    []ErrorEntry{},
	}
}

// AddProcessed appends a success entry.
func (r *Report) AddProcessed(entry ProcessedEntry) {
	r.Processed = append(r.Processed, entry)
}

// AddError appends a failure entry, substituting UnknownTempID for an empty temp_id.
func (r *Report) AddError(kind OperationKind, tempID string, err error) {
	if tempID == "" {
		tempID = UnknownTempID
	}
	r.Errors = append(r.Errors, ErrorEntry{
		Op:      string(kind),
		TempID:  tempID,
		Message: err.Error(),
	})
}

// Observe records one attempted operation. Elapsed time is charged to the
// kind's counters only when the kind is recognized.
func (r *Report) Observe(kind OperationKind, elapsed time.Duration) {
	r.Stats.TotalOperations++
	if ks := r.Stats.ForKind(kind); ks != nil {
		ks.Count++
		ks.TotalTime += elapsed.Seconds()
	}
}

// Finalize computes averages and the overall run time.
func (r *Report) Finalize(total time.Duration) {
	r.Stats.TotalTime = total.Seconds()
	for _, kind := range OperationKinds {
		ks := r.Stats.ForKind(kind)
		if ks.Count > 0 {
			ks.AvgTime = ks.TotalTime / float64(ks.Count)
		} else {
			ks.AvgTime = 0
		}
	}
}

// Succeeded reports whether no operation failed.
func (r *Report) Succeeded() bool {
	return len(r.Errors) == 0
}
