//go:build race

package refmap

// raceEnabled scales down stress workloads under the race detector,
// which slows atomic-heavy loops by an order of magnitude.
const raceEnabled = true
