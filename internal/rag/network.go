package rag

import (
	"context"

	"github.com/tomehub/tomehub/internal/search"
)

// NetworkDetector decides whether the assembled evidence grounds the
// question inside the user's library.
type NetworkDetector interface {
	Detect(ctx context.Context, question string, evidence []Evidence) NetworkStatus
}

// ThresholdNetworkDetector grades the evidence by its strongest
// weighted library hit. External-KB rows never count as library
// grounding on their own.
type ThresholdNetworkDetector struct {
	inThreshold     float64
	hybridThreshold float64
}

// NewThresholdNetworkDetector creates the detector with the given
// weighted-score thresholds. Non-positive values pick the defaults:
// 60 for in-network, 20 for hybrid.
func NewThresholdNetworkDetector(inThreshold, hybridThreshold float64) *ThresholdNetworkDetector {
	if inThreshold <= 0 {
		inThreshold = 60
	}
	if hybridThreshold <= 0 {
		hybridThreshold = 20
	}
	return &ThresholdNetworkDetector{
		inThreshold:     inThreshold,
		hybridThreshold: hybridThreshold,
	}
}

// Detect grades the evidence set.
func (d *ThresholdNetworkDetector) Detect(_ context.Context, _ string, evidence []Evidence) NetworkStatus {
	if len(evidence) == 0 {
		return NetworkOut
	}
	var best float64
	library := false
	external := false
	for _, ev := range evidence {
		if ev.Bucket == search.BucketExternalKB {
			external = true
			continue
		}
		library = true
		if ev.Annotation.Weighted > best {
			best = ev.Annotation.Weighted
		}
	}
	switch {
	case !library:
		return NetworkOut
	case best >= d.inThreshold && !external:
		return NetworkIn
	case best >= d.inThreshold:
		// Strong library evidence with external augmentation on top.
		return NetworkHybrid
	case best >= d.hybridThreshold:
		return NetworkHybrid
	default:
		return NetworkOut
	}
}
