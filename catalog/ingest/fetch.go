// Package ingest downloads approved datasets and loads them into per-dataset
// tables. Its handlers run on the pulse worker pool.
package ingest

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	getter "github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/internal/httpclient"
	"github.com/teranos/datacat/logger"
	"github.com/teranos/datacat/pulse/async"
)

// Fetcher downloads a record's source into a staging directory.
type Fetcher struct {
	client     *httpclient.SaferClient
	stagingDir string
	timeout    time.Duration
	logger     *zap.SugaredLogger
}

// NewFetcher creates a fetcher. An empty stagingDir uses the OS temp dir and
// a zero timeout leaves the download bounded only by ctx.
func NewFetcher(client *httpclient.SaferClient, stagingDir string, timeout time.Duration, log *zap.SugaredLogger) *Fetcher {
	if log == nil {
		log = logger.Logger
	}
	return &Fetcher{
		client:     client,
		stagingDir: stagingDir,
		timeout:    timeout,
		logger:     log.Named("fetch"),
	}
}

// Staged is a downloaded source file. Cleanup removes it and its directory.
type Staged struct {
	Path  string
	Bytes int64
	dir   string
}

// Cleanup removes the staging directory.
func (s *Staged) Cleanup() {
	if s == nil || s.dir == "" {
		return
	}
	os.RemoveAll(s.dir)
}

var badResponse = regexp.MustCompile(`bad response code: (\d+)`)

// Fetch downloads src. Client errors (4xx other than 408 and 429) are
// permanent; everything else may be retried by the pool.
func (f *Fetcher) Fetch(ctx context.Context, src, name string) (*Staged, error) {
	u, err := f.client.ValidateURL(src)
	if err != nil {
		return nil, async.Permanent(errors.Wrap(errors.ErrInvalidRequest, err.Error()))
	}

	dir, err := os.MkdirTemp(f.stagingDir, "datacat-"+name+"-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create staging directory")
	}
	staged := &Staged{Path: filepath.Join(dir, "source"), dir: dir}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	client := &getter.Client{
		Ctx:  ctx,
		Src:  forceHTTP(u),
		Dst:  staged.Path,
		Mode: getter.ClientModeFile,
		Getters: map[string]getter.Getter{
			"http":  f.httpGetter(),
			"https": f.httpGetter(),
		},
		// Sources are stored as downloaded; an empty map disables archive detection
		Decompressors: map[string]getter.Decompressor{},
	}

	start := time.Now()
	if err := client.Get(); err != nil {
		staged.Cleanup()
		return nil, classifyFetchError(src, err)
	}

	info, err := os.Stat(staged.Path)
	if err != nil {
		staged.Cleanup()
		return nil, errors.Wrap(err, "downloaded file missing")
	}
	staged.Bytes = info.Size()

	f.logger.Infow("Source downloaded",
		logger.FieldURL, src,
		"bytes", staged.Bytes,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return staged, nil
}

func (f *Fetcher) httpGetter() *getter.HttpGetter {
	return &getter.HttpGetter{
		Client:                f.client.Client,
		Netrc:                 false,
		XTerraformGetDisabled: true,
		DoNotCheckHeadFirst:   true,
	}
}

// forceHTTP pins the download to the http getters registered above.
func forceHTTP(u *url.URL) string {
	return u.Scheme + "::" + u.String()
}

func classifyFetchError(src string, err error) error {
	if m := badResponse.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		if code >= 400 && code < 500 && code != 408 && code != 429 {
			return async.Permanent(errors.Wrapf(errors.ErrNotFound, "%s returned %d", src, code))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Wrapf(err, "download of %s interrupted", src)
	}
	return errors.Wrapf(err, "failed to download %s", src)
}
