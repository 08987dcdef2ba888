package extract

import (
	"context"

	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// uploadExtractor emits the files stored inline in a file-upload source.
type uploadExtractor struct{}

func (uploadExtractor) Extract(ctx context.Context, src project.Source, emit EmitFunc) error {
	payload, err := project.DecodePayload(src.Type, src.Data)
	if err != nil {
		return err
	}
	for _, f := range payload.(*project.FileUploadData).Files {
		if ctx.Err() != nil {
			return errors.NewCancelled("extract uploads")
		}
		if err := emit(parseDocument(f.Path, []byte(f.Content))); err != nil {
			return err
		}
	}
	return nil
}
