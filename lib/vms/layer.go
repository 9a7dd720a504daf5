// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package vms

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Layer identifies a category of published data. Two layers are the
// same layer exactly when all three fields are equal.
type Layer struct {
	Type    int `cbor:"type"`
	Subtype int `cbor:"subtype"`
	Version int `cbor:"version"`
}

// String renders the layer as "(type, subtype, version)". This form
// appears in dump reports and metric labels.
func (l Layer) String() string {
	return fmt.Sprintf("(%d, %d, %d)", l.Type, l.Subtype, l.Version)
}

// ParseLayer parses the "type:subtype:version" form used on the
// command line.
func ParseLayer(text string) (Layer, error) {
	parts := strings.Split(text, ":")
	if len(parts) != 3 {
		return Layer{}, fmt.Errorf("invalid layer %q: want type:subtype:version", text)
	}
	var values [3]int
	for index, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Layer{}, fmt.Errorf("invalid layer %q: %w", text, err)
		}
		values[index] = value
	}
	return Layer{Type: values[0], Subtype: values[1], Version: values[2]}, nil
}

// CompareLayers orders layers by type, then subtype, then version.
func CompareLayers(a, b Layer) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Subtype, b.Subtype); c != 0 {
		return c
	}
	return cmp.Compare(a.Version, b.Version)
}

// SortLayers sorts layers in place using [CompareLayers].
func SortLayers(layers []Layer) {
	slices.SortFunc(layers, CompareLayers)
}

// AssociatedLayer pairs a layer with the publishers it is associated
// with. In a [SubscriptionState] these are the publishers that have at
// least one publisher-scoped subscriber; in [AvailableLayers] they are
// the publishers currently offering the layer.
type AssociatedLayer struct {
	Layer        Layer `cbor:"layer"`
	PublisherIDs []int `cbor:"publisher_ids"`
}

// SortAssociatedLayers sorts by layer and sorts each publisher id list.
func SortAssociatedLayers(associated []AssociatedLayer) {
	for index := range associated {
		slices.Sort(associated[index].PublisherIDs)
	}
	slices.SortFunc(associated, func(a, b AssociatedLayer) int {
		return CompareLayers(a.Layer, b.Layer)
	})
}
