// Package pool recycles fixed-size sets of prefab clones, issuing the first
// inactive clone on spawn and deactivating it again on return.
package pool
