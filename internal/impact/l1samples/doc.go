// Package l1samples owns Layer 1 (Samples) of the impact data model.
//
// Responsibilities: the raw accelerometer sample type, the tabular input
// schema, CSV ingest with per-vehicle grouping, and a synthetic data
// generator used for demos and tests.
//
// Dependency rule: L1 depends on nothing else in internal/impact.
// The shared ConfigError and SchemaError types live here so every higher
// layer can report them without import cycles.
package l1samples
