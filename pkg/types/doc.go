/*
Package types provides the core value model, interfaces, and shared data
structures for the quantcache adaptive cache.

The central type is Value, a closed tagged variant over six kinds (null,
bool, number, string, list, map). The quantization engine, the store, and
the statistics export all operate on this variant tree rather than on
arbitrary Go values, so every leaf can be tagged with the encoding applied
to it and decoded without reflection.

The package also defines the quantization type enum, the memory pressure
classification, the cumulative CacheStats snapshot, threshold alerts, and
the small interfaces (Store, Quantizer, HitPredictor, MetricsSource) that
let consumers and tests depend on contracts instead of concrete types.
*/
package types
