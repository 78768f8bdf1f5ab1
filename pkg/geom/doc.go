// Package geom holds the small vector and bounding-box value types shared
// by the codec, the entity model, and the spatial heuristics.
package geom
