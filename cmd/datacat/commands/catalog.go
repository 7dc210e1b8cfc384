package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/catalog/onboard"
	"github.com/teranos/datacat/errors"
)

// commandTimeout bounds a single catalog command, network calls included.
const commandTimeout = 2 * time.Minute

func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()
		return fn(ctx, a, args)
	}
}

// ResolveCmd describes a URL without persisting anything
var ResolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Describe a dataset URL",
	Long: `Resolve a URL into dataset metadata: title, attribution and a profile of
each column. Socrata-style URLs are described through the platform's views
API; anything else is downloaded and sampled.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runResolve),
}

var resolveShapefile bool

func runResolve(ctx context.Context, a *app, args []string) error {
	desc, problems := a.service.ResolveDataset(ctx, args[0], resolveShapefile)
	if len(problems) > 0 {
		for _, p := range problems {
			pterm.Error.Println(p)
		}
		return &onboard.ResolutionError{URL: args[0], Messages: problems}
	}

	if done, err := structured(desc); done {
		return err
	}

	pterm.DefaultSection.Println(orDash(desc.Title))
	pterm.Info.Printf("Source: %s\n", desc.SourceURL)
	if desc.Attribution != "" {
		pterm.Info.Printf("Attribution: %s\n", desc.Attribution)
	}
	if desc.UpdateFrequency != "" {
		pterm.Info.Printf("Update frequency: %s\n", desc.UpdateFrequency)
	}
	if len(desc.Columns) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(desc.Columns))
	for _, c := range desc.Columns {
		nulls := "-"
		if c.HasNulls != nil {
			nulls = strconv.FormatBool(*c.HasNulls)
		}
		rows = append(rows, []string{c.HumanName, c.MachineName, string(c.Type), nulls, strings.Join(c.Sample, ", ")})
	}
	return renderTable([]string{"Column", "Machine name", "Type", "Nulls", "Sample"}, rows)
}

// SubmitCmd submits a dataset for review
var SubmitCmd = &cobra.Command{
	Use:   "submit <url>",
	Short: "Submit a dataset for review",
	Long: `Resolve and submit a dataset. The record is created pending and the
contributor receives a receipt. With --admin the contributor flags name the
administrator, and the record is approved and loaded immediately.

Roles map a column to its meaning; every dataset needs an observed_date and
either a location or a latitude/longitude pair:

  --role "Issue Date=observed_date" --role Location=location`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runSubmit),
}

var submitFlags struct {
	name         string
	attribution  string
	description  string
	frequency    string
	roles        []string
	contributor  string
	organization string
	email        string
	shapefile    bool
	admin        bool
}

func parseRoles(assignments []string, form meta.FormInput) error {
	for _, a := range assignments {
		column, role, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(column) == "" {
			return errors.NewInvalidRequestError("role %q must look like <column>=<role>", a)
		}
		form[meta.RoleKeyPrefix+strings.TrimSpace(column)] = strings.TrimSpace(role)
	}
	return nil
}

func runSubmit(ctx context.Context, a *app, args []string) error {
	form := meta.FormInput{
		meta.FieldDatasetName:     submitFlags.name,
		meta.FieldAttribution:     submitFlags.attribution,
		meta.FieldDescription:     submitFlags.description,
		meta.FieldUpdateFrequency: submitFlags.frequency,
	}
	if err := parseRoles(submitFlags.roles, form); err != nil {
		return err
	}
	submitter := meta.Submitter{
		Name:         submitFlags.contributor,
		Organization: submitFlags.organization,
		Email:        submitFlags.email,
	}
	sub := onboard.Submission{URL: args[0], IsShapefile: submitFlags.shapefile, Form: form.WithSubmitter(submitter)}

	var (
		rec *meta.Record
		err error
	)
	if submitFlags.admin {
		rec, err = a.service.AdminAdd(ctx, sub, submitter)
	} else {
		rec, err = a.service.Submit(ctx, sub)
	}
	if err != nil {
		for _, p := range meta.Problems(err) {
			pterm.Error.Println(p)
		}
		return err
	}

	if done, err := structured(rec); done {
		return err
	}
	pterm.Success.Printf("%s recorded as %s (%s)\n", rec.HumanName, rec.Key, rec.ApprovedStatus)
	if task, ok := rec.LatestTask(); ok {
		pterm.Info.Printf("Dispatched %s task %s\n", task.Kind, task.JobID)
	}
	return nil
}

// ApproveCmd approves a pending record
var ApproveCmd = &cobra.Command{
	Use:   "approve <record-key>",
	Short: "Approve a pending dataset and dispatch its load",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		rec, err := a.service.ApproveAndNotify(ctx, args[0])
		if err != nil {
			return err
		}
		if task, ok := rec.LatestTask(); ok {
			pterm.Success.Printf("%s approved; %s task %s\n", rec.HumanName, task.Kind, task.JobID)
		} else {
			pterm.Success.Printf("%s approved\n", rec.HumanName)
		}
		return nil
	}),
}

// EditCmd corrects a record's metadata
var EditCmd = &cobra.Command{
	Use:   "edit <record-key>",
	Short: "Edit a dataset's metadata",
	Long: `Change a dataset's descriptive fields and column roles. Unset flags keep
their current values. Editing a pending dataset also approves it.`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

var editFlags struct {
	name, description, attribution, frequency string
	observedDate, latitude, longitude         string
	location                                  string
}

func runEdit(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, args []string) error {
		return editRecord(ctx, cmd, a, args[0])
	})(cmd, args)
}

func editRecord(ctx context.Context, cmd *cobra.Command, a *app, key string) error {
	rec, err := a.records.Get(ctx, key)
	if err != nil {
		return err
	}

	edit := meta.EditFromRecord(rec)
	flags := cmd.Flags()
	override := func(flag string, dst *string, value string) {
		if flags.Changed(flag) {
			*dst = value
		}
	}
	override("name", &edit.HumanName, editFlags.name)
	override("description", &edit.Description, editFlags.description)
	override("attribution", &edit.Attribution, editFlags.attribution)
	override("frequency", &edit.UpdateFrequency, editFlags.frequency)
	override("observed-date", &edit.ObservedDate, editFlags.observedDate)
	override("latitude", &edit.Latitude, editFlags.latitude)
	override("longitude", &edit.Longitude, editFlags.longitude)
	override("location", &edit.Location, editFlags.location)

	updated, err := a.service.Edit(ctx, rec.Key, edit)
	if err != nil {
		for _, p := range meta.Problems(err) {
			pterm.Error.Println(p)
		}
		return err
	}
	pterm.Success.Printf("%s updated (%s)\n", updated.HumanName, updated.ApprovedStatus)
	return nil
}

// PendingCmd lists records awaiting review
var PendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List datasets awaiting review",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		records, err := a.service.ListPendingRecords(ctx)
		if err != nil {
			return err
		}
		if done, err := structured(records); done {
			return err
		}
		if len(records) == 0 {
			pterm.Info.Println("No datasets awaiting review")
			return nil
		}

		rows := make([][]string, 0, len(records))
		for _, r := range records {
			contributor := r.ContributorName
			if r.ContributorEmail != "" {
				contributor += " <" + r.ContributorEmail + ">"
			}
			rows = append(rows, []string{r.Key, r.HumanName, orDash(contributor), formatTime(&r.DateAdded), r.SubmittedURL})
		}
		return renderTable([]string{"Key", "Name", "Contributor", "Submitted", "URL"}, rows)
	}),
}

// DatasetsCmd lists approved records with their newest task
var DatasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List approved datasets with their latest task",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		statuses, err := a.service.ListApprovedRecordsWithStatus(ctx)
		if err != nil {
			return err
		}
		if done, err := structured(statuses); done {
			return err
		}
		if len(statuses) == 0 {
			pterm.Info.Println("No approved datasets")
			return nil
		}

		rows := make([][]string, 0, len(statuses))
		for _, s := range statuses {
			task, status := "-", "-"
			if s.Latest != nil {
				task = string(s.Latest.Kind) + " " + s.Latest.TaskID
				status = s.Latest.Status
			}
			rows = append(rows, []string{s.Record.Key, s.Record.HumanName, s.Record.TableName(),
				formatTime(s.Record.LastUpdate), task, status})
		}
		return renderTable([]string{"Key", "Name", "Table", "Last update", "Latest task", "Status"}, rows)
	}),
}

// StatusCmd shows task outcomes
var StatusCmd = &cobra.Command{
	Use:   "status [record-key]",
	Short: "Show background task outcomes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  withApp(runStatus),
}

var statusTrace bool

func runStatus(ctx context.Context, a *app, args []string) error {
	key := ""
	if len(args) == 1 {
		key = args[0]
	}
	statuses, err := a.service.GetStatusForRecord(ctx, key)
	if err != nil {
		return err
	}
	if done, err := structured(statuses); done {
		return err
	}
	if len(statuses) == 0 {
		pterm.Info.Println("No tasks dispatched")
		return nil
	}

	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		enqueued := s.EnqueuedAt
		rows = append(rows, []string{s.HumanName, s.TaskID, string(s.Kind), s.Status,
			formatTime(&enqueued), formatTime(s.CompletedAt), orDash(s.Error)})
	}
	if err := renderTable([]string{"Name", "Task", "Kind", "Status", "Enqueued", "Done", "Error"}, rows); err != nil {
		return err
	}

	if statusTrace {
		for _, s := range statuses {
			if s.Trace == "" {
				continue
			}
			pterm.DefaultSection.Println("Trace " + s.TaskID)
			fmt.Println(s.Trace)
		}
	}
	return nil
}

func dispatchCmd(use, short string, dispatch func(*onboard.Service, context.Context, string) (meta.TaskHandle, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <record-key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			handle, err := dispatch(a.service, ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := structured(handle); done {
				return err
			}
			pterm.Success.Printf("Dispatched %s task %s\n", handle.Kind, handle.JobID)
			return nil
		}),
	}
}

// IngestCmd, UpdateCmd and DeleteCmd dispatch background work directly
var (
	IngestCmd = dispatchCmd("ingest", "Dispatch a load of an approved dataset", (*onboard.Service).DispatchIngestion)
	UpdateCmd = dispatchCmd("update", "Dispatch a refresh of an approved dataset", (*onboard.Service).DispatchUpdate)
	DeleteCmd = dispatchCmd("delete", "Dispatch removal of the dataset and its table", (*onboard.Service).DispatchDeletion)
)

// CheckCmd reports whether a task has finished
var CheckCmd = &cobra.Command{
	Use:   "check <task-id>",
	Short: "Check whether a task has finished",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		state, err := a.service.CheckTask(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(state)
		return nil
	}),
}

// DescribeCmd introspects a loaded dataset's table
var DescribeCmd = &cobra.Command{
	Use:   "describe <record-key>",
	Short: "Describe a loaded dataset's table",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		table, err := a.service.DescribeDataset(ctx, args[0])
		if err != nil {
			return err
		}
		if done, err := structured(table); done {
			return err
		}

		pterm.DefaultSection.Println(table.Record.HumanName)
		pterm.Info.Printf("Table %s: %d rows\n", table.Table, table.Rows)
		rows := make([][]string, 0, len(table.Columns))
		for _, c := range table.Columns {
			rows = append(rows, []string{c.Name, c.Type, strconv.FormatBool(c.Nullable)})
		}
		return renderTable([]string{"Column", "Type", "Nullable"}, rows)
	}),
}

func init() {
	ResolveCmd.Flags().BoolVar(&resolveShapefile, "shapefile", false, "The URL points at a zipped shapefile")

	f := SubmitCmd.Flags()
	f.StringVar(&submitFlags.name, "name", "", "Dataset name (required)")
	f.StringVar(&submitFlags.attribution, "attribution", "", "Who publishes the data (defaults to the resolved attribution)")
	f.StringVar(&submitFlags.description, "description", "", "Dataset description")
	f.StringVar(&submitFlags.frequency, "frequency", "", "Update frequency")
	f.StringArrayVar(&submitFlags.roles, "role", nil, "Column role as <column>=<role> (repeatable)")
	f.StringVar(&submitFlags.contributor, "contributor-name", "", "Contributor name")
	f.StringVar(&submitFlags.organization, "contributor-org", "", "Contributor organization")
	f.StringVar(&submitFlags.email, "contributor-email", "", "Contributor email")
	f.BoolVar(&submitFlags.shapefile, "shapefile", false, "The URL points at a zipped shapefile")
	f.BoolVar(&submitFlags.admin, "admin", false, "Add and approve immediately, recording the contributor flags as the admin")
	SubmitCmd.MarkFlagRequired("name")

	e := EditCmd.Flags()
	e.StringVar(&editFlags.name, "name", "", "Human-readable name")
	e.StringVar(&editFlags.description, "description", "", "Description")
	e.StringVar(&editFlags.attribution, "attribution", "", "Attribution")
	e.StringVar(&editFlags.frequency, "frequency", "", "Update frequency: "+strings.Join(meta.UpdateFrequencies, ", "))
	e.StringVar(&editFlags.observedDate, "observed-date", "", "Observed date column")
	e.StringVar(&editFlags.latitude, "latitude", "", "Latitude column")
	e.StringVar(&editFlags.longitude, "longitude", "", "Longitude column")
	e.StringVar(&editFlags.location, "location", "", "Location column")

	StatusCmd.Flags().BoolVar(&statusTrace, "trace", false, "Print failure traces")
}
