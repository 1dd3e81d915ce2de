package domain

// SubLocationProfile is the read-only view of a sub-location and its
// ancestors that pricing and demand aggregation need.
type SubLocationProfile struct {
	Chain    EntityChain
	Timezone string
	// Capacity is the maximum attendee count; zero means unknown.
	Capacity int
	Defaults DefaultRates
}

// Targets lists every (level, entity) pair a rule could bind to for this
// sub-location, most specific first. The event level is included only when
// the chain carries an event.
func (p SubLocationProfile) Targets() []AppliesTo {
	targets := make([]AppliesTo, 0, 4)
	for _, level := range []Level{LevelEvent, LevelSubLocation, LevelLocation, LevelCustomer} {
		if id := p.Chain.EntityFor(level); id != "" {
			targets = append(targets, AppliesTo{Level: level, EntityID: id})
		}
	}
	return targets
}
