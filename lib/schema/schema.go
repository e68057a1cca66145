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

// Package schema defines the closed set of PHI entity types and the BILOU
// label vocabulary derived from them.
//
// Label ids index the classification head of trained models, so the
// vocabulary is rebuilt identically from the canonical type order on every
// run: "O" is id 0, then each entity type contributes B, I, L and U in that
// order.
package schema

import (
	"fmt"
	"slices"
	"strings"
)

// EntityType is a canonical PHI category.
type EntityType string

// Canonical entity types. The order of canonicalTypes, not the order of these
// declarations, defines label ids.
const (
	FirstName                   EntityType = "FIRST_NAME"
	LastName                    EntityType = "LAST_NAME"
	SSN                         EntityType = "SSN"
	MedicalRecordNumber         EntityType = "MEDICAL_RECORD_NUMBER"
	HealthPlanBeneficiaryNumber EntityType = "HEALTH_PLAN_BENEFICIARY_NUMBER"
	DateOfBirth                 EntityType = "DATE_OF_BIRTH"
	PhoneNumber                 EntityType = "PHONE_NUMBER"
	FaxNumber                   EntityType = "FAX_NUMBER"
	Email                       EntityType = "EMAIL"
	StreetAddress               EntityType = "STREET_ADDRESS"
	City                        EntityType = "CITY"
	State                       EntityType = "STATE"
	Postcode                    EntityType = "POSTCODE"
	County                      EntityType = "COUNTY"
	Country                     EntityType = "COUNTRY"
	Date                        EntityType = "DATE"
	DateTime                    EntityType = "DATE_TIME"
	Time                        EntityType = "TIME"
	AccountNumber               EntityType = "ACCOUNT_NUMBER"
	CustomerID                  EntityType = "CUSTOMER_ID"
	EmployeeID                  EntityType = "EMPLOYEE_ID"
	UniqueID                    EntityType = "UNIQUE_ID"
	BiometricIdentifier         EntityType = "BIOMETRIC_IDENTIFIER"
	CertificateLicenseNumber    EntityType = "CERTIFICATE_LICENSE_NUMBER"
	Age                         EntityType = "AGE"
)

var canonicalTypes = []EntityType{
	// HIPAA direct identifiers
	FirstName,
	LastName,
	SSN,
	MedicalRecordNumber,
	HealthPlanBeneficiaryNumber,
	DateOfBirth,

	// Contact and geography
	PhoneNumber,
	FaxNumber,
	Email,
	StreetAddress,
	City,
	State,
	Postcode,
	County,
	Country,

	// Dates and times
	Date,
	DateTime,
	Time,

	// Other identifiers
	AccountNumber,
	CustomerID,
	EmployeeID,
	UniqueID,
	BiometricIdentifier,
	CertificateLicenseNumber,

	// Quasi-identifier, generalized at 89+
	Age,
}

// EntityTypes returns the canonical entity types in vocabulary order.
func EntityTypes() []EntityType {
	return slices.Clone(canonicalTypes)
}

// Valid reports whether t is one of the canonical entity types.
func (t EntityType) Valid() bool {
	return slices.Contains(canonicalTypes, t)
}

func (t EntityType) String() string {
	return string(t)
}

// Tag is a position marker within a labeled span.
type Tag byte

const (
	TagOutside Tag = 'O'
	TagBegin   Tag = 'B'
	TagInside  Tag = 'I'
	TagLast    Tag = 'L'
	TagUnit    Tag = 'U'
)

// entityTags is the fixed per-type expansion order.
var entityTags = []Tag{TagBegin, TagInside, TagLast, TagUnit}

func (t Tag) String() string {
	return string(rune(t))
}

// Label is a (Tag, EntityType) pair, or the bare Outside label.
type Label struct {
	Tag  Tag
	Type EntityType
}

// Outside is the non-entity label.
var Outside = Label{Tag: TagOutside}

// String renders the label in the "B-FIRST_NAME" form used by model configs.
func (l Label) String() string {
	if l.Tag == TagOutside {
		return "O"
	}
	return l.Tag.String() + "-" + string(l.Type)
}

// IsOutside reports whether l is the Outside label.
func (l Label) IsOutside() bool {
	return l.Tag == TagOutside
}

// ParseLabel parses "O" or a "<tag>-<TYPE>" label string.
func ParseLabel(s string) (Label, error) {
	if s == "O" {
		return Outside, nil
	}
	tag, typ, ok := strings.Cut(s, "-")
	if !ok || len(tag) != 1 {
		return Label{}, fmt.Errorf("malformed label %q", s)
	}
	t := Tag(tag[0])
	if !slices.Contains(entityTags, t) {
		return Label{}, fmt.Errorf("unknown tag %q in label %q", tag, s)
	}
	if typ == "" {
		return Label{}, fmt.Errorf("missing entity type in label %q", s)
	}
	return Label{Tag: t, Type: EntityType(typ)}, nil
}
