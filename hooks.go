package authcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A caller joined an already in-flight population instead of running its own.
	FlightShared(key string)

	// The populate func panicked; the panic was converted to a PopulateError.
	PopulatePanic(key string, recovered any)

	// A population exceeded Options.PopulateTimeout; waiters were released
	// with ErrPopulateTimeout and the flight was cleared for retry.
	PopulateTimeout(key string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// The background sweep pruned expired tag index entries.
	SweepPruned(removed int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)    {}
func (NopHooks) FlightShared(string)        {}
func (NopHooks) PopulatePanic(string, any)  {}
func (NopHooks) PopulateTimeout(string)     {}
func (NopHooks) ProviderSetRejected(string) {}
func (NopHooks) SweepPruned(int)            {}
