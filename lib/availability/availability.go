// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package availability computes which layers can currently be produced
// from the offerings publishers have declared.
//
// A publisher offers a layer together with the layers it depends on.
// A layer is available when at least one publisher offers it and every
// dependency of that offering is itself available. Layers on a
// dependency cycle, or depending on a layer nobody offers, are not
// available.
package availability

import (
	"sync"

	"github.com/vms-broker/vms/lib/vms"
)

// Availability holds the latest computed availability. Safe for
// concurrent use.
type Availability struct {
	mu             sync.RWMutex
	sequenceNumber int
	available      []vms.AssociatedLayer
}

// New returns an Availability with nothing available and sequence 0.
func New() *Availability {
	return &Availability{available: []vms.AssociatedLayer{}}
}

// SetPublishersOffering replaces the full set of offerings and
// recomputes availability. Each call advances the sequence number.
func (a *Availability) SetPublishersOffering(offerings []vms.LayersOffering) {
	available := compute(offerings)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.sequenceNumber++
	a.available = available
}

// GetAvailableLayers returns a copy of the current availability.
func (a *Availability) GetAvailableLayers() vms.AvailableLayers {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := vms.AvailableLayers{
		SequenceNumber:   a.sequenceNumber,
		AssociatedLayers: make([]vms.AssociatedLayer, len(a.available)),
	}
	for index, associated := range a.available {
		result.AssociatedLayers[index] = vms.AssociatedLayer{
			Layer:        associated.Layer,
			PublisherIDs: append([]int(nil), associated.PublisherIDs...),
		}
	}
	return result
}

// compute finds the least fixed point: start with nothing available
// and keep admitting (layer, publisher) offers whose dependencies are
// all available until a pass admits nothing new. Offers that can only
// be satisfied through a cycle are never admitted.
func compute(offerings []vms.LayersOffering) []vms.AssociatedLayer {
	publishers := make(map[vms.Layer]map[int]struct{})

	for changed := true; changed; {
		changed = false
		for _, offering := range offerings {
			for _, dependency := range offering.Layers {
				if _, admitted := publishers[dependency.Layer][offering.PublisherID]; admitted {
					continue
				}
				if !allAvailable(publishers, dependency.Dependencies) {
					continue
				}
				ids, ok := publishers[dependency.Layer]
				if !ok {
					ids = make(map[int]struct{})
					publishers[dependency.Layer] = ids
				}
				ids[offering.PublisherID] = struct{}{}
				changed = true
			}
		}
	}

	available := make([]vms.AssociatedLayer, 0, len(publishers))
	for layer, ids := range publishers {
		associated := vms.AssociatedLayer{Layer: layer, PublisherIDs: make([]int, 0, len(ids))}
		for id := range ids {
			associated.PublisherIDs = append(associated.PublisherIDs, id)
		}
		available = append(available, associated)
	}
	vms.SortAssociatedLayers(available)
	return available
}

func allAvailable(publishers map[vms.Layer]map[int]struct{}, layers []vms.Layer) bool {
	for _, layer := range layers {
		if len(publishers[layer]) == 0 {
			return false
		}
	}
	return true
}
