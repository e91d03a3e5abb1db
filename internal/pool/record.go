package pool

// Record is the pool for one prefab identity: its capacity and the clones
// created for it, in creation order. Only Manager writes to a Record.
type Record struct {
	ID        int
	Name      string
	Capacity  int
	Instances []Instance

	// clone identity -> position in Instances
	slots map[int]int
}

// RecordStats is a read-only view of a Record's occupancy.
type RecordStats struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Active   int    `json:"active"`
	Inactive int    `json:"inactive"`
}
