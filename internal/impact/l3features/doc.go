// Package l3features owns Layer 3 (Features) of the impact data model.
//
// Responsibilities: turning a Window into a fixed, ordered feature vector.
// Per axis (x, y, z and magnitude) the vector carries time-domain moments,
// zero-crossing rate, jerk statistics and FFT summaries; cross-axis Pearson
// correlations follow. Window metadata (timestamps, severity, label
// fraction) is carried beside the vector and is never a model input.
//
// Extraction is a pure function of the window: identical windows produce
// bit-identical vectors. An Extractor reuses its FFT plan and scratch
// buffers, so give each goroutine its own.
//
// Dependency rule: L3 may depend on L1-L2.
package l3features
