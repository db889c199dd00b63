package engine

import (
	"time"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/source"
	"github.com/roach88/credsync/internal/upsert"
)

// Recorder observes run outcomes. Implemented by metrics.Run.
type Recorder interface {
	SourceRead(origin credential.Origin, stats source.Stats)
	BatchWritten(origin credential.Origin, res upsert.Result)
	DuplicatesResolved(report ResolveReport)
	Validated(v Validation)
	RunFinished(origin credential.Origin, d time.Duration)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) SourceRead(credential.Origin, source.Stats)    {}
func (NopRecorder) BatchWritten(credential.Origin, upsert.Result) {}
func (NopRecorder) DuplicatesResolved(ResolveReport)              {}
func (NopRecorder) Validated(Validation)                          {}
func (NopRecorder) RunFinished(credential.Origin, time.Duration)  {}
