// Package cache implements an adaptive, quantizing key-value cache.
//
// Values are structured documents (see pkg/types) stored with a TTL and
// evicted by a priority score built from access frequency, recency, age,
// and an optional learned hit prediction. Large values are quantized to
// compact byte encodings (int8, fp8, or int4) on insertion, and the cache
// escalates through quantization, fractional eviction, and emergency
// cleanup as memory pressure rises. A background maintenance tick sweeps
// expired entries, adapts capacity to the observed hit rate, trains the
// predictor, and evaluates alert thresholds.
package cache
