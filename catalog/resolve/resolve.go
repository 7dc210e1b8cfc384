// Package resolve turns a submitted dataset URL into a dataset description,
// either through a known platform's API or by sampling the file itself.
package resolve

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datacat/catalog/dataset"
	"github.com/teranos/datacat/catalog/infer"
	"github.com/teranos/datacat/catalog/socrata"
	"github.com/teranos/datacat/logger"
)

// Error strings surfaced to submitters.
const (
	MsgNeedURL       = "Need a URL"
	MsgInvalidURL    = socrata.MsgInvalidURL
	MsgUnreachable   = socrata.MsgUnreachable
	MsgNoHeader      = "Could not read a header row from the file"
	msgStatusPattern = "URL returns a %d status code"
)

var identifierPattern = regexp.MustCompile(`/([a-z0-9]{4}-[a-z0-9]{4})`)

// ExtractIdentifier returns the last Socrata-style "abcd-1234" path fragment in
// rawURL, or "" when there is none.
func ExtractIdentifier(rawURL string) string {
	matches := identifierPattern.FindAllStringSubmatch(strings.TrimSpace(rawURL), -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// HostOf returns scheme://netloc for rawURL, defaulting the scheme to https.
func HostOf(rawURL string) (string, bool) {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err == nil && u.Scheme == "" {
		u, err = url.Parse("https://" + trimmed)
	}
	if err != nil || u.Host == "" {
		return "", false
	}
	return u.Scheme + "://" + u.Host, true
}

// Resolver describes dataset URLs.
type Resolver struct {
	client  socrata.HTTPClient
	adapter *socrata.Adapter
	sample  infer.Options
	logger  *zap.SugaredLogger
}

// NewResolver creates a resolver that issues every request through client.
func NewResolver(client socrata.HTTPClient, sample infer.Options, log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = logger.Logger
	}
	return &Resolver{
		client:  client,
		adapter: socrata.NewAdapter(client, log),
		sample:  sample,
		logger:  log.Named("resolve"),
	}
}

// Resolve describes rawURL. Failures never escape as Go errors: they are
// returned as submitter-facing strings, also recorded in the description,
// alongside whatever was learned before the failure.
//
// A Socrata identifier in the URL routes to the views API. If that lookup fails
// structurally (the URL is not really a Socrata view) the URL is sampled directly;
// a transient failure is reported as is.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, isShapefile bool) (*dataset.Description, []string) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		desc := &dataset.Description{Errors: []string{MsgNeedURL}}
		return desc, desc.Errors
	}

	log := r.logger.With(logger.FieldURL, trimmed)

	if id := ExtractIdentifier(trimmed); id != "" {
		if host, ok := HostOf(trimmed); ok {
			res := r.adapter.Fetch(ctx, host, id, isShapefile)
			switch {
			case res.OK():
				res.Description.SubmittedURL = rawURL
				return res.Description, nil
			case res.Transient:
				res.Description.SubmittedURL = rawURL
				return res.Description, res.Errors
			}
			log.Infow("Platform lookup failed structurally, sampling URL directly",
				logger.FieldDatasetID, id,
				"errors", res.Errors,
			)
		}
	}

	desc := r.generic(ctx, rawURL, trimmed, isShapefile, log)
	return desc, desc.Errors
}

func (r *Resolver) generic(ctx context.Context, rawURL, trimmed string, isShapefile bool, log *zap.SugaredLogger) *dataset.Description {
	desc := &dataset.Description{IsShapefile: isShapefile}
	fail := func(msg string) *dataset.Description {
		desc.Errors = append(desc.Errors, msg)
		log.Infow("Generic resolution failed", logger.FieldError, msg, logger.FieldStatus, desc.StatusCode)
		return desc
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fail(MsgInvalidURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fail(MsgInvalidURL)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		if strings.Contains(err.Error(), "SSRF protection") {
			return fail(MsgInvalidURL)
		}
		log.Debugw("Generic request failed", logger.FieldError, err)
		return fail(MsgUnreachable)
	}
	defer resp.Body.Close()

	desc.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Sprintf(msgStatusPattern, resp.StatusCode))
	}

	desc.SubmittedURL = rawURL
	desc.SourceURL = trimmed
	desc.Title = nameFromPath(u)

	if isShapefile {
		return desc
	}

	sample, err := infer.ReadSample(resp.Body, r.sample)
	if err != nil {
		log.Debugw("Sampling failed", logger.FieldError, err)
		return fail(MsgNoHeader)
	}
	desc.Columns = infer.Describe(sample)

	log.Infow("Resolved by sampling",
		"title", desc.Title,
		"columns", len(desc.Columns),
		logger.FieldRows, len(sample.Rows),
		"truncated", sample.Truncated,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return desc
}

// nameFromPath is the last segment of the URL path, or the host when the path is empty.
func nameFromPath(u *url.URL) string {
	segments := strings.Split(u.Path, "/")
	name := segments[len(segments)-1]
	if name == "" {
		return u.Hostname()
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}
