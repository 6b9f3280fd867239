// Package l2windows owns Layer 2 (Windows) of the impact data model.
//
// Responsibilities: fixed-size overlapping segmentation of per-vehicle
// sample streams, window shape validation, and the streaming buffer used by
// online inference. The batch Segmenter and the StreamBuffer emit identical
// windows for identical input.
//
// Dependency rule: L2 may depend on L1 only.
package l2windows
