package model

import "go.uber.org/zap/zapcore"

// PipelineRun aggregates the counts of one extraction-to-load cycle. It lives
// in memory only; the service reports it to the caller and the log.
type PipelineRun struct {
	BatchID          string
	Fetched          int
	Rejected         int
	RejectedByReason map[string]int
	Inserted         int
	Updated          int
	Skipped          int
}

func NewPipelineRun(batchID string) PipelineRun {
	return PipelineRun{
		BatchID:          batchID,
		RejectedByReason: map[string]int{},
	}
}

func (p *PipelineRun) CountRejection(reason string) {
	p.Rejected++
	p.RejectedByReason[reason]++
}

// MarshalLogObject implements zapcore.ObjectMarshaler so a whole run can be
// logged as one structured field.
func (p PipelineRun) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("batch_id", p.BatchID)
	enc.AddInt("fetched", p.Fetched)
	enc.AddInt("rejected", p.Rejected)
	enc.AddInt("inserted", p.Inserted)
	enc.AddInt("updated", p.Updated)
	enc.AddInt("skipped", p.Skipped)
	if len(p.RejectedByReason) > 0 {
		return enc.AddObject("rejected_by_reason", rejectionCounts(p.RejectedByReason))
	}
	return nil
}

type rejectionCounts map[string]int

func (c rejectionCounts) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for reason, n := range c {
		enc.AddInt(reason, n)
	}
	return nil
}
