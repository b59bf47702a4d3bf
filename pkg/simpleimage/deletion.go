package simpleimage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// DeleteImage removes every physical key of one image, then its record.
// Unknown ids return ErrImageNotFound.
func (s *service) DeleteImage(ctx context.Context, id uuid.UUID, opts DeleteOptions) error {
	image, err := s.GetImage(ctx, id)
	if err != nil {
		return err
	}
	if err := canDeleteImage(image.Status, opts.Force); err != nil {
		return err
	}

	_, err = s.DeleteImages(ctx, []uuid.UUID{id}, opts)
	return err
}

type deletionPlan struct {
	id   uuid.UUID
	keys []string
}

// DeleteImages expands ids into their physical keys, deletes them in
// chunks of DeleteBatchSize, and removes a record only once every one of
// its keys is confirmed gone. Unknown ids count as deleted so retries
// converge.
func (s *service) DeleteImages(ctx context.Context, ids []uuid.UUID, opts DeleteOptions) (*DeletionReport, error) {
	report := &DeletionReport{}

	var plans []deletionPlan
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		image, err := s.repository.GetImage(ctx, id)
		if err != nil {
			if errors.Is(err, ErrImageNotFound) {
				report.Deleted = append(report.Deleted, id)
				continue
			}
			report.Failures = append(report.Failures, DeletionFailure{ImageID: id, Reason: err.Error()})
			continue
		}
		if err := canDeleteImage(image.Status, opts.Force); err != nil {
			report.Failures = append(report.Failures, DeletionFailure{ImageID: id, Reason: err.Error()})
			continue
		}
		if image.Status == StatusProcessing {
			s.logger.Warn("force deleting image still being processed", "image_id", id)
		}
		plans = append(plans, deletionPlan{id: id, keys: s.keysFor(image)})
	}

	failedKeys := s.deleteKeys(ctx, plans)

	var totalKeys, totalFailed int
	for _, plan := range plans {
		totalKeys += len(plan.keys)

		var keyFailures []DeletionFailure
		for _, key := range plan.keys {
			if reason, ok := failedKeys[key]; ok {
				keyFailures = append(keyFailures, DeletionFailure{ImageID: plan.id, Key: key, Reason: reason})
			}
		}
		if len(keyFailures) > 0 {
			totalFailed += len(keyFailures)
			report.Failures = append(report.Failures, keyFailures...)
			s.logger.Warn("keeping image record, physical keys remain",
				"image_id", plan.id, "failed_keys", len(keyFailures))
			continue
		}

		if err := s.repository.DeleteImage(ctx, plan.id); err != nil && !errors.Is(err, ErrImageNotFound) {
			report.Failures = append(report.Failures, DeletionFailure{ImageID: plan.id, Reason: err.Error()})
			continue
		}
		report.Deleted = append(report.Deleted, plan.id)
		s.emitDeleted(ctx, plan.id)
	}

	s.observer.ObserveDeletion(totalKeys, totalFailed)

	if len(report.Failures) > 0 {
		return report, &PartialFailureError{Report: report}
	}
	return report, nil
}

// keysFor derives the key set from the id and configuration. A stored
// physical key that differs (written under an older prefix) is included.
func (s *service) keysFor(image *Image) []string {
	keys := s.keys.All(image.ID, s.settings.RenditionSizes)
	if image.PhysicalKey != "" && image.PhysicalKey != keys[0] {
		keys = append(keys, image.PhysicalKey)
	}
	return keys
}

// deleteKeys sends every key of every plan to the blob store in bounded
// chunks and returns the reason for each key that failed. A chunk whose
// call fails as a whole marks all its keys failed.
func (s *service) deleteKeys(ctx context.Context, plans []deletionPlan) map[string]string {
	var all []string
	for _, plan := range plans {
		all = append(all, plan.keys...)
	}

	failed := make(map[string]string)
	for start := 0; start < len(all); start += s.settings.DeleteBatchSize {
		end := min(start+s.settings.DeleteBatchSize, len(all))
		chunk := all[start:end]

		began := s.now()
		failures, err := s.blobStore.DeleteMany(ctx, chunk)
		s.observer.ObserveBlobOperation("delete_many", s.now().Sub(began), err)
		if err != nil {
			s.logger.Error("bulk delete failed", "keys", len(chunk), "err", err)
			for _, key := range chunk {
				failed[key] = err.Error()
			}
			continue
		}
		for _, f := range failures {
			failed[f.Key] = f.Message
		}
	}
	return failed
}
