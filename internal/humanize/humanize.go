// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package humanize

import (
	"fmt"
	"math"
)

type config struct {
	scale    float64
	suffixes []string
}

// Bytes produces human readable representations of byte values: the value is
// scaled by powers of 1024 and annotated with a byte-unit suffix.
var Bytes = config{1024, []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}}

// Count produces human readable representations of unitless counts: the value
// is scaled by powers of 1000 and annotated with an SI-style suffix.
var Count = config{1000, []string{"", "K", "M", "G", "T", "P", "E"}}

// FormattedString represents a human readable representation of a value. It
// implements the redact.SafeValue interface.
type FormattedString string

// SafeValue implements redact.SafeValue.
func (fs FormattedString) SafeValue() {}

// String implements fmt.Stringer.
func (fs FormattedString) String() string { return string(fs) }

func (c config) format(value float64) FormattedString {
	var negative string
	if value < 0 {
		negative = "-"
		value = -value
	}
	i := 0
	for value >= c.scale && i+1 < len(c.suffixes) {
		value /= c.scale
		i++
	}
	if value < 10 && math.Floor(value) != value {
		return FormattedString(fmt.Sprintf("%s%.1f%s", negative, value, c.suffixes[i]))
	}
	return FormattedString(fmt.Sprintf("%s%.0f%s", negative, math.Floor(value), c.suffixes[i]))
}

// Int64 produces a human readable representation of the value.
func (c config) Int64(value int64) FormattedString {
	return c.format(float64(value))
}

// Uint64 produces a human readable representation of the value.
func (c config) Uint64(value uint64) FormattedString {
	return c.format(float64(value))
}
