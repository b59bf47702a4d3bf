package simpleimage

import (
	"errors"
	"testing"
)

func TestCanDeleteImage(t *testing.T) {
	tests := []struct {
		name    string
		status  ImageStatus
		force   bool
		wantErr error
	}{
		{"completed", StatusCompleted, false, nil},
		{"failed", StatusFailed, false, nil},
		{"processing without force", StatusProcessing, false, ErrImageBeingProcessed},
		{"processing with force", StatusProcessing, true, nil},
		{"unknown", ImageStatus("ARCHIVED"), true, ErrInvalidStatusTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := canDeleteImage(tt.status, tt.force)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCanResolveURL(t *testing.T) {
	if err := canResolveURL(StatusCompleted); err != nil {
		t.Errorf("completed image should resolve: %v", err)
	}
	for _, status := range []ImageStatus{StatusProcessing, StatusFailed, "BOGUS"} {
		if err := canResolveURL(status); !errors.Is(err, ErrImageNotReady) {
			t.Errorf("status %s: expected ErrImageNotReady, got %v", status, err)
		}
	}
}

func TestCanRestoreVersion(t *testing.T) {
	if err := canRestoreVersion(StatusProcessing); !errors.Is(err, ErrImageBeingProcessed) {
		t.Errorf("expected ErrImageBeingProcessed, got %v", err)
	}
	if err := canRestoreVersion(StatusFailed); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
