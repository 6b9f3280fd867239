// Package l5model owns Layer 5 (Model) of the impact pipeline.
//
// Responsibilities: the standard scaler, stratified hold-out and k-fold
// splits, a histogram gradient-boosted tree classifier with second-order
// logistic loss, and the Trainer that fits scaler and booster together on
// the training split only.
//
// Everything here is deterministic for a given seed. A fitted Pipeline is
// immutable and safe for concurrent prediction.
//
// Dependency rule: L5 may depend on L1-L4. Metrics live in l6eval.
package l5model
