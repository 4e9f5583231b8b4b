// Package scene mirrors the host application's scene graph.
// It tracks announced objects by name and host id, keeps the latest transform
// sample of each object with sequence ordering, and expires objects the host
// stops refreshing.
package scene
