//go:build !race

package refmap

const raceEnabled = false
