package dataset

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/edgeimpulse/rccar-go/ingest"

	"github.com/cyclopcam/logs"
)

// IngestStore uploads each sample as a PNG image to Edge Impulse, labeled
// with its steering direction. Unlike the other stores a failed flush can
// leave part of a session uploaded; duplicates are refused by the service on
// retry.
type IngestStore struct {
	Collector *ingest.Collector
	Category  string   // training, testing or split. Default split.
	Log       logs.Log // If nil, nothing is logged.
}

var _ Store = (*IngestStore)(nil)

// Flush uploads the samples of s one by one.
func (is *IngestStore) Flush(ctx context.Context, s Session) error {
	if err := checkSession(s); err != nil {
		return err
	}
	category := is.Category
	if category == "" {
		category = "split"
	}
	name := SessionName(s.Time)
	for i, smp := range s.Samples {
		var b bytes.Buffer
		if err := png.Encode(&b, smp.Image); err != nil {
			return fmt.Errorf("encoding sample %d: %v", i, err)
		}
		filename := fmt.Sprintf("%s.%03d.png", name, i)
		_, err := is.Collector.UploadImage(ctx, filename, category, b.Bytes(), &ingest.UploadOpts{
			Label:              smp.Label.String(),
			DisallowDuplicates: true,
		})
		if err != nil {
			return fmt.Errorf("uploading sample %d of %d: %w", i+1, len(s.Samples), err)
		}
		if is.Log != nil {
			is.Log.Debugf("dataset: uploaded %s (%s)", filename, smp.Label)
		}
	}
	return nil
}
