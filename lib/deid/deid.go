// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package deid replaces PHI with surrogates.
//
// Names, emails and record numbers get realistic fakes that stay consistent
// within a document. Dates move by a per-document offset so intervals are
// preserved. Ages of 89 and over are generalized, postcodes truncated, and
// the remaining identifiers replaced with typed placeholders.
package deid

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/antflydb/phimask/lib/schema"
	"golang.org/x/text/unicode/norm"
)

// Policy names the replacement strategy applied to an entity type.
type Policy string

const (
	PolicyCached      Policy = "cached"
	PolicyDateShift   Policy = "date_shift"
	PolicyKeep        Policy = "keep"
	PolicyGeneralize  Policy = "generalize"
	PolicyPlaceholder Policy = "placeholder"
	PolicyRedact      Policy = "redact"
)

const (
	datePlaceholder    = "[DATE]"
	zipPlaceholder     = "[ZIP]"
	defaultPlaceholder = "[REDACTED]"

	ageCeiling = 89
)

var ageDigits = regexp.MustCompile(`\p{Nd}+`)

type replaceFunc func(d *Deidentifier, original string, t schema.EntityType, st *DocumentState) string

type rule struct {
	policy  Policy
	replace replaceFunc
}

func placeholder(s string) rule {
	return rule{
		policy:  PolicyPlaceholder,
		replace: func(*Deidentifier, string, schema.EntityType, *DocumentState) string { return s },
	}
}

func typed() rule {
	return rule{
		policy:  PolicyPlaceholder,
		replace: func(_ *Deidentifier, _ string, t schema.EntityType, _ *DocumentState) string { return "[" + string(t) + "]" },
	}
}

func cached(generate func(st *DocumentState) string) rule {
	return rule{
		policy: PolicyCached,
		replace: func(_ *Deidentifier, original string, t schema.EntityType, st *DocumentState) string {
			return st.lookup(t, original, func() string { return generate(st) })
		},
	}
}

var keep = rule{
	policy:  PolicyKeep,
	replace: func(_ *Deidentifier, original string, _ schema.EntityType, _ *DocumentState) string { return original },
}

var defaultRules = map[schema.EntityType]rule{
	schema.FirstName: cached(func(st *DocumentState) string { return st.faker.FirstName() }),
	schema.LastName:  cached(func(st *DocumentState) string { return st.faker.LastName() }),
	schema.Email:     cached(func(st *DocumentState) string { return st.faker.Email() }),
	schema.MedicalRecordNumber: cached(func(st *DocumentState) string {
		return fmt.Sprintf("MRN-%08d", st.faker.Number(0, 99999999))
	}),

	schema.Date: {policy: PolicyDateShift, replace: func(d *Deidentifier, original string, _ schema.EntityType, st *DocumentState) string {
		return d.shift(original, st.dateShift, d.dateLayouts)
	}},
	schema.DateOfBirth: {policy: PolicyDateShift, replace: func(d *Deidentifier, original string, _ schema.EntityType, st *DocumentState) string {
		return d.shift(original, st.dateShift, d.dateLayouts)
	}},
	schema.DateTime: {policy: PolicyDateShift, replace: func(d *Deidentifier, original string, _ schema.EntityType, st *DocumentState) string {
		return d.shift(original, st.dateShift, d.dateTimeLayouts)
	}},

	schema.Time:    keep,
	schema.State:   keep,
	schema.Country: keep,

	schema.Age:      {policy: PolicyGeneralize, replace: func(_ *Deidentifier, original string, _ schema.EntityType, _ *DocumentState) string { return generalizeAge(original) }},
	schema.Postcode: {policy: PolicyGeneralize, replace: func(_ *Deidentifier, original string, _ schema.EntityType, _ *DocumentState) string { return generalizePostcode(original) }},

	schema.SSN:           placeholder("[SSN]"),
	schema.PhoneNumber:   placeholder("[PHONE]"),
	schema.FaxNumber:     placeholder("[FAX]"),
	schema.StreetAddress: placeholder("[ADDRESS]"),
	schema.City:          placeholder("[CITY]"),
	schema.County:        placeholder("[COUNTY]"),

	schema.AccountNumber:               typed(),
	schema.CustomerID:                  typed(),
	schema.EmployeeID:                  typed(),
	schema.UniqueID:                    typed(),
	schema.BiometricIdentifier:         typed(),
	schema.CertificateLicenseNumber:    typed(),
	schema.HealthPlanBeneficiaryNumber: typed(),
}

// Deidentifier maps (text, entity type) to a surrogate. It holds no
// per-document state and may be shared across goroutines.
type Deidentifier struct {
	rules           map[schema.EntityType]rule
	dateLayouts     []DateLayout
	dateTimeLayouts []DateLayout
}

// Option configures a Deidentifier.
type Option func(*Deidentifier)

// WithDateLayouts replaces the date layouts tried for DATE and
// DATE_OF_BIRTH, in order. DATE_TIME falls back to them after its own
// layouts. Callers should check each layout with DateLayout.Validate.
func WithDateLayouts(layouts ...DateLayout) Option {
	return func(d *Deidentifier) {
		if len(layouts) == 0 {
			return
		}
		d.dateLayouts = slices.Clone(layouts)
		d.dateTimeLayouts = append(slices.Clone(defaultDateTimeLayouts), d.dateLayouts...)
	}
}

// New returns a Deidentifier with the default policy. It panics if a
// canonical entity type has no rule.
func New(opts ...Option) *Deidentifier {
	d := &Deidentifier{
		rules:       defaultRules,
		dateLayouts: defaultDateLayouts,
	}
	d.dateTimeLayouts = append(slices.Clone(defaultDateTimeLayouts), d.dateLayouts...)
	for _, opt := range opts {
		opt(d)
	}
	for _, t := range schema.EntityTypes() {
		if _, ok := d.rules[t]; !ok {
			panic(fmt.Sprintf("deid: no replacement rule for %s", t))
		}
	}
	return d
}

// Classify returns the policy applied to t. Unknown types are redacted.
func (d *Deidentifier) Classify(t schema.EntityType) Policy {
	if r, ok := d.rules[t]; ok {
		return r.policy
	}
	return PolicyRedact
}

// Replace returns the surrogate for original under entity type t. Cached
// types reuse st's surrogate for the same (t, original) pair.
func (d *Deidentifier) Replace(original string, t schema.EntityType, st *DocumentState) string {
	r, ok := d.rules[t]
	if !ok {
		return defaultPlaceholder
	}
	if st != nil {
		st.ensure()
	}
	return r.replace(d, original, t, st)
}

// generalizeAge caps the first number in s at the ceiling. Digits from any
// script count, so "９０" and "٩٠" generalize like "90".
func generalizeAge(s string) string {
	m := ageDigits.FindString(norm.NFKC.String(s))
	if m == "" {
		return s
	}
	n := 0
	for _, r := range m {
		n = n*10 + digitValue(r)
		if n >= ageCeiling {
			return strconv.Itoa(ageCeiling) + "+"
		}
	}
	return s
}

// digitValue returns the value of a decimal digit rune. Unicode allocates
// Nd digits in contiguous runs of ten starting at zero.
func digitValue(r rune) int {
	start := r
	for unicode.Is(unicode.Nd, start-1) {
		start--
	}
	return int(r-start) % 10
}

func generalizePostcode(s string) string {
	r := []rune(s)
	if len(r) >= 3 {
		return string(r[:3]) + "XX"
	}
	return zipPlaceholder
}

// normalizeSpace trims the text and collapses internal whitespace runs.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
