package simpleimage

import "fmt"

// canDeleteImage checks if an image can be deleted based on its status.
// The force parameter allows deletion even during processing.
func canDeleteImage(status ImageStatus, force bool) error {
	switch status {
	case StatusProcessing:
		if !force {
			return fmt.Errorf("%w: use force=true to delete an image being processed (status: %s)", ErrImageBeingProcessed, status)
		}
		return nil
	case StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("%w: unknown status %s", ErrInvalidStatusTransition, status)
	}
}

// canResolveURL checks that every object of the image is in place.
func canResolveURL(status ImageStatus) error {
	switch status {
	case StatusCompleted:
		return nil
	case StatusProcessing:
		return fmt.Errorf("%w: image is still being processed (status: %s)", ErrImageNotReady, status)
	case StatusFailed:
		return fmt.Errorf("%w: image ingestion failed (status: %s)", ErrImageNotReady, status)
	default:
		return fmt.Errorf("%w: unknown status %s", ErrImageNotReady, status)
	}
}

// canRestoreVersion refuses restores while the pipeline still writes the
// original.
func canRestoreVersion(status ImageStatus) error {
	if status == StatusProcessing {
		return fmt.Errorf("%w: cannot restore a version while processing (status: %s)", ErrImageBeingProcessed, status)
	}
	return nil
}
