package logpipe

import (
	"errors"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// ErrUnsupportedFormat is returned by the parser router when no registered
// parser accepts a raw log.
var ErrUnsupportedFormat = errors.New("unsupported log format")

// pipelineErr wraps into the root taxonomy under the pipeline kind.
func pipelineErr(subject, reason string) error {
	return models.NewError(models.ErrKindPipeline, subject, reason)
}

// detectionErr wraps into the root taxonomy under the detection kind.
func detectionErr(subject, reason string) error {
	return models.NewError(models.ErrKindDetection, subject, reason)
}

// parseErr wraps into the root taxonomy under the parse kind.
func parseErr(subject string, err error) error {
	return models.WrapError(models.ErrKindParse, subject, err)
}
