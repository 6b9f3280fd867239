// Package pipeline orchestrates the impact layers for batch use: training
// a model from labelled samples and scoring a recorded stream with a frozen
// artifact.
//
// This package is the composition root: it imports from the layer packages
// (l1samples through l7serving) but none of those packages import pipeline/.
// It owns no domain logic of its own.
package pipeline
