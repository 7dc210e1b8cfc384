package meta

import (
	"crypto/md5"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"github.com/teranos/datacat/catalog/dataset"
)

// Fingerprint is the record key for a submitted URL: the md5 hex digest of
// the string exactly as submitted.
func Fingerprint(submittedURL string) string {
	sum := md5.Sum([]byte(submittedURL))
	return hex.EncodeToString(sum[:])
}

// Build merges a resolved description with submitter input into a record.
// The record is validated but not persisted; validation failures are marked
// with errors.ErrInvalidRequest.
func Build(submittedURL string, desc *dataset.Description, form FormInput, status ApprovalStatus) (*Record, error) {
	if desc == nil {
		desc = &dataset.Description{}
	}

	var p problems
	if strings.TrimSpace(submittedURL) == "" {
		p.add("Need a URL")
	}

	humanName := form.Get(FieldDatasetName)
	datasetName := dataset.DatasetName(humanName)
	if humanName == "" {
		p.add("A dataset name is required")
	} else if datasetName == "" {
		p.add("Dataset name %q has no letters or digits", humanName)
	}

	if status != StatusPending && status != StatusApproved {
		p.add("Unknown approval status %q", status)
	}

	roles, err := ExtractRoleAssignments(form)
	if err != nil {
		p = append(p, Problems(err)...)
		roles = map[Role]string{}
	}
	validateRoles(roles, &p)

	if len(desc.Columns) > 0 {
		for _, role := range []Role{RoleObservedDate, RoleLatitude, RoleLongitude, RoleLocation} {
			if column := roles[role]; column != "" && !desc.HasColumn(column) {
				p.add("Column %q assigned to %s is not in the dataset", column, role)
			}
		}
	}

	if err := p.err(); err != nil {
		return nil, err
	}

	sourceURL := desc.SourceURL
	if sourceURL == "" {
		sourceURL = submittedURL
	}

	rec := &Record{
		Key:                     Fingerprint(submittedURL),
		SourceURL:               sourceURL,
		SubmittedURL:            submittedURL,
		ViewURL:                 desc.ViewURL,
		DatasetName:             datasetName,
		HumanName:               humanName,
		Attribution:             firstNonEmpty(form.Get(FieldAttribution), desc.Attribution),
		Description:             firstNonEmpty(form.Get(FieldDescription), desc.Description),
		UpdateFrequency:         firstNonEmpty(form.Get(FieldUpdateFrequency), desc.UpdateFrequency),
		ContributorName:         form.Get(FieldContributorName),
		ContributorOrganization: form.Get(FieldContributorOrganization),
		ContributorEmail:        form.Get(FieldContributorEmail),
		ApprovedStatus:          status,
		ColumnNames:             desc.ColumnNames(),
		ObservedDate:            roles[RoleObservedDate],
		Latitude:                roles[RoleLatitude],
		Longitude:               roles[RoleLongitude],
		Location:                roles[RoleLocation],
		IsShapefile:             desc.IsShapefile,
		DateAdded:               time.Now().UTC(),
	}
	return rec, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// UpdateFrequencies are the values an edit may set.
var UpdateFrequencies = []string{"daily", "weekly", "monthly", "yearly"}

// EditInput is an administrator's correction to a record.
// Role fields name columns; they are slugified before being stored.
type EditInput struct {
	HumanName       string
	Description     string
	Attribution     string
	UpdateFrequency string
	ObservedDate    string
	Latitude        string
	Longitude       string
	Location        string
}

// Validate checks e the way the edit form does: every descriptive field is
// required and the location strategy must be complete.
func (e EditInput) Validate() error {
	var p problems
	required := []struct{ name, value string }{
		{"human_name", e.HumanName},
		{"description", e.Description},
		{"attribution", e.Attribution},
		{"update_freq", e.UpdateFrequency},
		{"observed_date", e.ObservedDate},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			p.add("%s is required", f.name)
		}
	}

	if freq := strings.TrimSpace(e.UpdateFrequency); freq != "" && !validFrequency(freq) {
		p.add("update_freq must be one of %s", strings.Join(UpdateFrequencies, ", "))
	}

	validateLocation(
		strings.TrimSpace(e.Latitude),
		strings.TrimSpace(e.Longitude),
		strings.TrimSpace(e.Location),
		&p,
	)
	return p.err()
}

func validFrequency(freq string) bool {
	for _, f := range UpdateFrequencies {
		if strings.EqualFold(f, freq) {
			return true
		}
	}
	return false
}

// Apply validates e and copies it onto rec. The dataset name is kept so the
// ingested table keeps its name.
func (e EditInput) Apply(rec *Record) error {
	if err := e.Validate(); err != nil {
		return err
	}

	slug := func(column string) string {
		if column = strings.TrimSpace(column); column == "" {
			return ""
		}
		return dataset.Slugify(column)
	}

	if len(rec.ColumnNames) > 0 {
		var p problems
		for role, column := range map[Role]string{
			RoleObservedDate: slug(e.ObservedDate),
			RoleLatitude:     slug(e.Latitude),
			RoleLongitude:    slug(e.Longitude),
			RoleLocation:     slug(e.Location),
		} {
			if column != "" && !slices.Contains(rec.ColumnNames, column) {
				p.add("Column %q assigned to %s is not in the dataset", column, role)
			}
		}
		if err := p.err(); err != nil {
			return err
		}
	}

	rec.HumanName = strings.TrimSpace(e.HumanName)
	rec.Description = strings.TrimSpace(e.Description)
	rec.Attribution = strings.TrimSpace(e.Attribution)
	rec.UpdateFrequency = strings.ToLower(strings.TrimSpace(e.UpdateFrequency))
	rec.ObservedDate = slug(e.ObservedDate)
	rec.Latitude = slug(e.Latitude)
	rec.Longitude = slug(e.Longitude)
	rec.Location = slug(e.Location)
	return nil
}

// EditFromRecord pre-fills an edit with rec's current values.
func EditFromRecord(rec *Record) EditInput {
	return EditInput{
		HumanName:       rec.HumanName,
		Description:     rec.Description,
		Attribution:     rec.Attribution,
		UpdateFrequency: rec.UpdateFrequency,
		ObservedDate:    rec.ObservedDate,
		Latitude:        rec.Latitude,
		Longitude:       rec.Longitude,
		Location:        rec.Location,
	}
}
