package scene

// Template is a prefab: a named definition clones are made from.
type Template struct {
	name       string
	instanceID int
	originalID int
	poolCount  int
	static     bool
}

// Name returns the template's name.
func (t *Template) Name() string { return t.name }

// InstanceID returns the identity the world assigned at creation.
func (t *Template) InstanceID() int { return t.instanceID }

// OriginalID returns the identity resolved by the pool manager.
func (t *Template) OriginalID() int { return t.originalID }

// SetOriginalID records the identity resolved by the pool manager.
func (t *Template) SetOriginalID(id int) { t.originalID = id }

// PoolCount returns how many clones a pool of this template holds.
func (t *Template) PoolCount() int { return t.poolCount }

// SetPoolCount changes the pool size used when the pool is first built.
func (t *Template) SetPoolCount(n int) { t.poolCount = n }

// Static reports whether clones are Props rather than Entities.
func (t *Template) Static() bool { return t.static }
