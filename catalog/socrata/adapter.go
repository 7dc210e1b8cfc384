// Package socrata resolves datasets hosted on Socrata open-data portals
// through the platform's views API.
package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datacat/catalog/dataset"
	"github.com/teranos/datacat/logger"
)

// Error strings surfaced to submitters.
const (
	MsgUnreachable   = "URL can not be reached"
	MsgNoEndpoint    = "No Socrata views endpoint available for this dataset"
	MsgNotAvailable  = "The Socrata dataset you supplied is not available currently"
	MsgUnstructured  = "Views endpoint not structured as expected"
	MsgInvalidURL    = "Invalid URL"
	msgStatusPattern = "URL returns a %d status code"
)

// maxViewBytes bounds a views API response. Cached column statistics make
// wide datasets large, but never this large.
const maxViewBytes = 16 << 20

// HTTPClient is the transport the adapter needs; *httpclient.SaferClient satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result is the outcome of a views API lookup.
type Result struct {
	Description *dataset.Description
	Errors      []string
	StatusCode  int
	// Transient marks failures worth retrying later (unreachable host, timeout,
	// 5xx, 429). A failed Result that is not transient is structural: the
	// URL does not point at a usable Socrata view.
	Transient bool
}

// OK reports whether the lookup succeeded.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// Structural reports a failure that retrying the views API will not fix.
func (r *Result) Structural() bool {
	return !r.OK() && !r.Transient
}

// Adapter talks to a Socrata views API.
type Adapter struct {
	client HTTPClient
	logger *zap.SugaredLogger
}

// NewAdapter creates an adapter using client for every request.
func NewAdapter(client HTTPClient, log *zap.SugaredLogger) *Adapter {
	if log == nil {
		log = logger.Logger
	}
	return &Adapter{client: client, logger: log.Named("socrata")}
}

// ViewURL is the views API endpoint for a dataset identifier.
func ViewURL(host, id string) string {
	return fmt.Sprintf("%s/api/views/%s", strings.TrimRight(host, "/"), id)
}

// DownloadURL is where the dataset's data is fetched from during ingestion.
func DownloadURL(host, id string, isShapefile bool) string {
	if isShapefile {
		return fmt.Sprintf("%s/download/%s/application/zip", strings.TrimRight(host, "/"), id)
	}
	return ViewURL(host, id) + "/rows.csv?accessType=DOWNLOAD"
}

// Fetch looks up dataset id on host (scheme://netloc) and describes it.
// It never returns a Go error; failures are reported in Result.Errors.
func (a *Adapter) Fetch(ctx context.Context, host, id string, isShapefile bool) *Result {
	viewURL := ViewURL(host, id)
	desc := &dataset.Description{
		ViewURL:     viewURL,
		SourceURL:   DownloadURL(host, id, isShapefile),
		IsShapefile: isShapefile,
	}
	result := &Result{Description: desc}
	log := a.logger.With(logger.FieldHost, host, logger.FieldDatasetID, id)

	fail := func(transient bool, msgs ...string) *Result {
		result.Errors = append(result.Errors, msgs...)
		result.Transient = transient
		desc.Errors = result.Errors
		desc.StatusCode = result.StatusCode
		log.Infow("Socrata lookup failed",
			"transient", transient,
			logger.FieldStatus, result.StatusCode,
			"errors", result.Errors,
		)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, viewURL, nil)
	if err != nil {
		return fail(false, MsgInvalidURL)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		log.Debugw("Views request failed", logger.FieldError, err)
		if isBlocked(err) {
			return fail(false, MsgInvalidURL)
		}
		return fail(true, MsgUnreachable, MsgNoEndpoint)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	log.Debugw("Views response",
		logger.FieldStatus, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fail(true, fmt.Sprintf(msgStatusPattern, resp.StatusCode), MsgNotAvailable)
	case resp.StatusCode >= 400:
		return fail(false, fmt.Sprintf(msgStatusPattern, resp.StatusCode), MsgNotAvailable)
	}

	var v view
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxViewBytes)).Decode(&v); err != nil {
		if ctx.Err() != nil {
			return fail(true, MsgUnreachable, MsgNoEndpoint)
		}
		return fail(false, MsgNotAvailable)
	}

	desc.Title = v.Name
	desc.Description = v.Description
	desc.Attribution = v.Attribution
	desc.UpdateFrequency = v.updateFrequency()

	var fields []viewField
	var names []string
	for _, f := range v.Columns {
		if f.isSystemField() {
			continue
		}
		fields = append(fields, f)
		names = append(names, f.Name)
	}
	for i, machine := range dataset.ColumnNames(names) {
		desc.Columns = append(desc.Columns, fields[i].column(machine))
	}

	if v.Name == "" || (len(desc.Columns) == 0 && !isShapefile) {
		return fail(false, MsgUnstructured)
	}

	log.Infow("Resolved Socrata view",
		"title", desc.Title,
		"columns", len(desc.Columns),
	)
	return result
}

// isBlocked reports a request refused before it left the process.
func isBlocked(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SSRF protection") ||
		strings.Contains(msg, "private IP address blocked") ||
		strings.Contains(msg, "not allowed")
}

