package meta

import (
	"sort"
	"strings"

	"github.com/teranos/datacat/catalog/dataset"
)

// Role is the special meaning a submitter assigns to a column.
type Role string

const (
	RoleObservedDate Role = "observed_date"
	RoleLatitude     Role = "latitude"
	RoleLongitude    Role = "longitude"
	RoleLocation     Role = "location"
)

// ParseRole maps a form value onto a Role.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleObservedDate, RoleLatitude, RoleLongitude, RoleLocation:
		return r, true
	}
	return "", false
}

// Form field names.
const (
	FieldDatasetName             = "dataset_name"
	FieldAttribution             = "dataset_attribution"
	FieldDescription             = "dataset_description"
	FieldUpdateFrequency         = "update_frequency"
	FieldContributorName         = "contributor_name"
	FieldContributorOrganization = "contributor_organization"
	FieldContributorEmail        = "contributor_email"

	// RoleKeyPrefix precedes a column name; the field's value is that column's role.
	RoleKeyPrefix = "key_type_"
)

// FormInput is a flat submission form.
type FormInput map[string]string

// Get returns the trimmed value of key.
func (f FormInput) Get(key string) string {
	return strings.TrimSpace(f[key])
}

// SetRole assigns role to column.
func (f FormInput) SetRole(column string, role Role) {
	f[RoleKeyPrefix+column] = string(role)
}

// WithSubmitter returns a copy of f whose contributor fields come from s.
func (f FormInput) WithSubmitter(s Submitter) FormInput {
	out := make(FormInput, len(f)+3)
	for k, v := range f {
		out[k] = v
	}
	out[FieldContributorName] = s.Name
	out[FieldContributorOrganization] = s.Organization
	out[FieldContributorEmail] = s.Email
	return out
}

// Submitter identifies who is adding a dataset. Admin flows pass the admin's
// identity explicitly rather than reading it from a session.
type Submitter struct {
	Name         string
	Organization string
	Email        string
}

// ExtractRoleAssignments reads every key_type_<column> field and returns the
// column (as a machine name) holding each role. Empty values and "none" are
// ignored. An unknown role, or one role claimed by two columns, is a
// validation error.
func ExtractRoleAssignments(form FormInput) (map[Role]string, error) {
	keys := make([]string, 0, len(form))
	for k := range form {
		if strings.HasPrefix(k, RoleKeyPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var p problems
	roles := make(map[Role]string)
	for _, k := range keys {
		value := strings.TrimSpace(form[k])
		if value == "" || strings.EqualFold(value, "none") {
			continue
		}

		column := dataset.Slugify(strings.TrimPrefix(k, RoleKeyPrefix))
		role, ok := ParseRole(value)
		if !ok {
			p.add("Unknown role %q for column %q", value, column)
			continue
		}
		if column == "" {
			p.add("Role %s is assigned to an unnamed column", role)
			continue
		}
		if existing, taken := roles[role]; taken {
			p.add("Role %s is assigned to both %q and %q", role, existing, column)
			continue
		}
		roles[role] = column
	}

	if err := p.err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// validateRoles enforces the location strategy and the observed date.
func validateRoles(roles map[Role]string, p *problems) {
	if roles[RoleObservedDate] == "" {
		p.add("You must provide an Observed Date field name")
	}
	validateLocation(roles[RoleLatitude], roles[RoleLongitude], roles[RoleLocation], p)
}

// validateLocation requires a location column or a latitude and longitude
// pair, never both.
func validateLocation(latitude, longitude, location string, p *problems) {
	switch {
	case latitude != "" && longitude == "", latitude == "" && longitude != "":
		p.add("You must provide both a Latitude field name and a Longitude field name")
	case location == "" && latitude == "":
		p.add("You must either provide a Latitude and Longitude field name or a Location field name")
	case location != "" && latitude != "":
		p.add("Provide either a Location field name or a Latitude and Longitude pair, not both")
	}
}
