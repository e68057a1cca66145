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

package deid

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antflydb/phimask/lib/schema"
)

func TestEveryTypeHasARule(t *testing.T) {
	d := New()
	for _, typ := range schema.EntityTypes() {
		require.NotEqual(t, PolicyRedact, d.Classify(typ), typ)
	}
	require.Equal(t, PolicyRedact, d.Classify("SHOE_SIZE"))
	require.Equal(t, "[REDACTED]", d.Replace("44", "SHOE_SIZE", NewDocumentState(1)))
}

func TestCachedSurrogatesAreConsistent(t *testing.T) {
	d := New()
	st := NewDocumentState(42)

	first := d.Replace("John", schema.FirstName, st)
	require.NotEmpty(t, first)
	require.Equal(t, first, d.Replace("John", schema.FirstName, st))

	// Same text under another type is cached separately.
	d.Replace("John", schema.LastName, st)
	require.Equal(t, 2, st.Len())

	email := d.Replace("john@example.com", schema.Email, st)
	require.Contains(t, email, "@")
	require.Equal(t, email, d.Replace("john@example.com", schema.Email, st))

	mrn := d.Replace("12345", schema.MedicalRecordNumber, st)
	require.Regexp(t, regexp.MustCompile(`^MRN-\d{8}$`), mrn)
	require.Equal(t, mrn, d.Replace("12345", schema.MedicalRecordNumber, st))
}

func TestResetClearsCache(t *testing.T) {
	d := New()
	st := NewDocumentState(42)
	d.Replace("John", schema.FirstName, st)
	d.Replace("Smith", schema.LastName, st)
	require.Equal(t, 2, st.Len())

	st.Reset()
	require.Zero(t, st.Len())
}

func TestSeededStateIsReproducible(t *testing.T) {
	d := New()
	run := func(st *DocumentState) []string {
		return []string{
			d.Replace("John", schema.FirstName, st),
			d.Replace("Smith", schema.LastName, st),
			d.Replace("j@x.org", schema.Email, st),
			d.Replace("A1", schema.MedicalRecordNumber, st),
			d.Replace("2020-03-15", schema.Date, st),
		}
	}

	a, b := NewDocumentState(7), NewDocumentState(7)
	require.Equal(t, a.DateShift(), b.DateShift())
	require.Equal(t, run(a), run(b))
}

func TestResetForIgnoresHistory(t *testing.T) {
	d := New()
	a, b := NewDocumentState(7), NewDocumentState(7)

	// b processes an unrelated document first.
	b.ResetFor("doc-0")
	d.Replace("Alice", schema.FirstName, b)
	d.Replace("Jones", schema.LastName, b)

	a.ResetFor("doc-1")
	b.ResetFor("doc-1")
	require.Zero(t, b.Len())
	require.Equal(t, a.DateShift(), b.DateShift())
	require.Equal(t,
		d.Replace("John", schema.FirstName, a),
		d.Replace("John", schema.FirstName, b))
}

func TestZeroValueDocumentState(t *testing.T) {
	d := New()

	var st DocumentState
	require.NotPanics(t, func() {
		name := d.Replace("John", schema.FirstName, &st)
		require.NotEmpty(t, name)
		require.Equal(t, name, d.Replace("John", schema.FirstName, &st))
	})
	require.Equal(t, 1, st.Len())
	require.GreaterOrEqual(t, st.DateShift(), -365)
	require.LessOrEqual(t, st.DateShift(), -1)
	require.NotEqual(t, "2020-03-15", d.Replace("2020-03-15", schema.Date, &st))

	var reset DocumentState
	require.NotPanics(t, func() { reset.Reset() })
	require.Less(t, reset.DateShift(), 0)

	var keyed DocumentState
	require.NotPanics(t, func() { keyed.ResetFor("doc-1") })
	require.Less(t, keyed.DateShift(), 0)
	require.NotEmpty(t, d.Replace("Smith", schema.LastName, &keyed))

	var pinned DocumentState
	pinned.SetDateShift(-10)
	require.Equal(t, -10, pinned.DateShift())
	require.Equal(t, "2020-03-05", d.Replace("2020-03-15", schema.Date, &pinned))
}

func TestDateShiftRange(t *testing.T) {
	st := NewDocumentState(99)
	seen := map[int]bool{}
	for range 5000 {
		st.Reset()
		s := st.DateShift()
		require.GreaterOrEqual(t, s, -365)
		require.LessOrEqual(t, s, -1)
		seen[s] = true
	}
	require.Greater(t, len(seen), 300)
}

func TestAgeGeneralization(t *testing.T) {
	d := New()
	st := NewDocumentState(1)

	tests := []struct {
		in, want string
	}{
		{"88", "88"},
		{"89", "89+"},
		{"90", "89+"},
		{"92 years old", "89+"},
		{"3 months", "3 months"},
		{"elderly", "elderly"},
		{"123456789012345678901234567890", "89+"},
		{"９０", "89+"},
		{"９０ years", "89+"},
		{"٩٠", "89+"},
		{"९२ वर्ष", "89+"},
		{"٨٨", "٨٨"},
		{"４２", "４２"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, d.Replace(tt.in, schema.Age, st))
		})
	}
}

func TestDateShifting(t *testing.T) {
	d := New()
	st := NewDocumentState(1)
	st.SetDateShift(-30)

	tests := []struct {
		name string
		typ  schema.EntityType
		in   string
		want string
	}{
		{"iso", schema.Date, "2020-03-15", "2020-02-14"},
		{"us slash", schema.DateOfBirth, "05/02/1960", "04/02/1960"},
		{"us dash", schema.Date, "5-2-1960", "04-02-1960"},
		{"long month", schema.Date, "March 5, 2021", "February 03, 2021"},
		{"short month any case", schema.Date, "mar 5, 2021", "Feb 03, 2021"},
		{"day first", schema.Date, "5 March 2021", "03 February 2021"},
		{"surrounding space", schema.Date, "  2020-03-15 ", "2020-02-14"},
		{"full width digits", schema.Date, "２０２０-０３-１５", "2020-02-14"},
		{"unparseable", schema.Date, "last Tuesday", "[DATE]"},
		{"invalid calendar date", schema.Date, "2020-13-45", "[DATE]"},
		{"datetime", schema.DateTime, "2020-03-15 08:30:00", "2020-02-14 08:30:00"},
		{"datetime iso", schema.DateTime, "2020-03-15T08:30:00", "2020-02-14T08:30:00"},
		{"datetime 12h", schema.DateTime, "03/15/2020 8:30 PM", "02/14/2020 08:30 PM"},
		{"datetime date only", schema.DateTime, "2020-03-15", "2020-02-14"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, d.Replace(tt.in, tt.typ, st))
		})
	}
}

func TestDateRoundTrip(t *testing.T) {
	d := New()
	st := NewDocumentState(3)

	originals := []string{"2019-12-31", "01/15/2000", "07-04-1976", "February 29, 2024", "Dec 1, 1999", "31 January 2001"}
	for _, in := range originals {
		orig, layout, ok := parseDate(in, d.dateLayouts)
		require.True(t, ok, in)

		out := d.Replace(in, schema.Date, st)
		got, err := time.Parse(layout.Parse, out)
		require.NoError(t, err, out)
		require.Equal(t, orig.AddDate(0, 0, st.DateShift()), got, in)
	}
}

func TestFixedPolicies(t *testing.T) {
	d := New()
	st := NewDocumentState(1)

	tests := []struct {
		typ  schema.EntityType
		in   string
		want string
	}{
		{schema.SSN, "123-45-6789", "[SSN]"},
		{schema.PhoneNumber, "555-0100", "[PHONE]"},
		{schema.FaxNumber, "555-0101", "[FAX]"},
		{schema.StreetAddress, "1 Main St", "[ADDRESS]"},
		{schema.City, "Boston", "[CITY]"},
		{schema.County, "Suffolk", "[COUNTY]"},
		{schema.State, "MA", "MA"},
		{schema.Country, "USA", "USA"},
		{schema.Time, "10:30", "10:30"},
		{schema.Postcode, "02139", "021XX"},
		{schema.Postcode, "12", "[ZIP]"},
		{schema.Postcode, "ÅÄÖ 12", "ÅÄÖXX"},
		{schema.AccountNumber, "99", "[ACCOUNT_NUMBER]"},
		{schema.CustomerID, "C9", "[CUSTOMER_ID]"},
		{schema.EmployeeID, "E9", "[EMPLOYEE_ID]"},
		{schema.UniqueID, "U9", "[UNIQUE_ID]"},
		{schema.BiometricIdentifier, "retina", "[BIOMETRIC_IDENTIFIER]"},
		{schema.CertificateLicenseNumber, "L9", "[CERTIFICATE_LICENSE_NUMBER]"},
		{schema.HealthPlanBeneficiaryNumber, "H9", "[HEALTH_PLAN_BENEFICIARY_NUMBER]"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, d.Replace(tt.in, tt.typ, st))
		})
	}
	require.Zero(t, st.Len())
}

func TestDigitValue(t *testing.T) {
	for i, r := range "0123456789" {
		require.Equal(t, i, digitValue(r))
	}
	for i, r := range "٠١٢٣٤٥٦٧٨٩" {
		require.Equal(t, i, digitValue(r))
	}
	// Mathematical digits are five adjacent runs of ten.
	require.Equal(t, 7, digitValue('\U0001D7FD'))
}

func TestWithDateLayouts(t *testing.T) {
	d := New(WithDateLayouts(DateLayout{Parse: "2.1.2006", Render: "02.01.2006"}))
	st := NewDocumentState(1)
	st.SetDateShift(-30)

	require.Equal(t, "14.02.2020", d.Replace("15.3.2020", schema.Date, st))
	require.Equal(t, "[DATE]", d.Replace("2020-03-15", schema.DateOfBirth, st), "built-in layouts are replaced")
	require.Equal(t, "14.02.2020", d.Replace("15.3.2020", schema.DateTime, st), "datetime falls back to date layouts")
	require.Equal(t, "2020-02-14 08:30:00", d.Replace("2020-03-15 08:30:00", schema.DateTime, st))

	// No layouts keeps the defaults.
	require.Equal(t, "2020-02-14", New(WithDateLayouts()).Replace("2020-03-15", schema.Date, st))
}

func TestDateLayoutValidate(t *testing.T) {
	for _, l := range defaultDateLayouts {
		require.NoError(t, l.Validate(), l.Parse)
	}
	for _, l := range defaultDateTimeLayouts {
		require.NoError(t, l.Validate(), l.Parse)
	}

	require.Error(t, DateLayout{Parse: "2006-1-2"}.Validate())
	require.Error(t, DateLayout{Parse: "2006-2-1", Render: "2006-01-02"}.Validate(), "fields swapped")
	require.Error(t, DateLayout{Parse: "1/2/2006", Render: "02/01/2006"}.Validate(), "day and month swapped")
}
