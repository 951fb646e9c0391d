package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// Result is the disposition recorded for one entry.
type Result struct {
	Entry       ManifestEntry
	Disposition Disposition
}

// Summary is the outcome of a whole pass, in manifest order.
type Summary struct {
	Results []Result
	Counts  map[Disposition]int
}

// Job runs one pass of the manifest against the server.
type Job struct {
	cfg      Config
	manifest *Manifest
	factory  ConnectorFactory
	url      *url.URL
	opts     ConnectOptions
	log      *slog.Logger

	mutex   sync.Mutex
	results []Result
}

func NewJob(cfg Config, manifest *Manifest, factory ConnectorFactory, u *url.URL, opts ConnectOptions, log *slog.Logger) *Job {
	return &Job{
		cfg:      cfg,
		manifest: manifest,
		factory:  factory,
		url:      u,
		opts:     opts,
		log:      log,
	}
}

// Run processes every entry once. The returned error is fatal for the pass;
// the summary still lists what was done before it happened.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	var err error
	if j.cfg.Threads > 1 {
		err = j.runParallel(ctx)
	} else {
		err = j.runSequential(ctx)
	}
	summary := j.summary()
	if err != nil {
		return summary, err
	}

	if j.cfg.Report != "" {
		if err := saveReport(j.opts.Local, j.cfg.Report, summary.Results); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (j *Job) connect() (Connector, error) {
	j.log.Debug("Connecting", "scheme", j.factory.Name(), "host", j.url.Host, "user", j.url.User.Username())
	return j.factory.Create(j.url, j.opts)
}

func (j *Job) closeConnector(conn Connector) {
	if err := conn.Close(); err != nil {
		j.log.Warn("Failed to close connection", "error", err)
	}
}

func (j *Job) newEngine(conn Connector, log *slog.Logger) *Engine {
	return NewEngine(conn, j.opts.Local, j.cfg.RemoteDir, j.cfg.OutDir, j.cfg.StrictChecksumCase, log)
}

func (j *Job) runSequential(ctx context.Context) error {
	conn, err := j.connect()
	if err != nil {
		return err
	}
	defer j.closeConnector(conn)

	engine := j.newEngine(conn, j.log)
	seen := make(map[string]bool)
	for entry, err := range j.manifest.Entries() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if j.skipParseError(err) {
				continue
			}
			return err
		}
		if j.duplicate(seen, entry) {
			continue
		}

		d, err := engine.Sync(entry)
		if err != nil {
			return err
		}
		j.record(entry, d)
	}
	return nil
}

// runParallel hands whole chip groups to workers so that no two workers
// ever touch the same file.
func (j *Job) runParallel(ctx context.Context) error {
	groups, err := j.chipGroups()
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	work := make(chan []ManifestEntry)
	workers := min(j.cfg.Threads, len(groups))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go j.downloadWorker(ctx, work, fail, &wg, i+1)
	}

feed:
	for _, group := range groups {
		select {
		case work <- group:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (j *Job) downloadWorker(ctx context.Context, work <-chan []ManifestEntry, fail func(error), wg *sync.WaitGroup, index int) {
	defer wg.Done()

	conn, err := j.connect()
	if err != nil {
		fail(fmt.Errorf("worker %d: %w", index, err))
		return
	}
	defer j.closeConnector(conn)

	engine := j.newEngine(conn, j.log.With("worker", index))
	for group := range work {
		for _, entry := range group {
			if ctx.Err() != nil {
				return
			}
			d, err := engine.Sync(entry)
			if err != nil {
				fail(err)
				return
			}
			j.record(entry, d)
		}
	}
}

// chipGroups reads the whole manifest and groups entries by chip group in
// first-seen order. Names without a chip group share one bucket; the engine
// reports them without touching the network.
func (j *Job) chipGroups() ([][]ManifestEntry, error) {
	index := make(map[string]int)
	var groups [][]ManifestEntry
	seen := make(map[string]bool)

	for entry, err := range j.manifest.Entries() {
		if err != nil {
			if j.skipParseError(err) {
				continue
			}
			return nil, err
		}
		if j.duplicate(seen, entry) {
			continue
		}

		chip, _ := ChipGroup(entry.RemoteName)
		i, ok := index[chip]
		if !ok {
			i = len(groups)
			index[chip] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], entry)
	}
	return groups, nil
}

func (j *Job) skipParseError(err error) bool {
	var parseErr *ManifestParseError
	if !errors.As(err, &parseErr) {
		return false
	}
	j.log.Warn("Skipping malformed manifest line", "line", parseErr.Line, "error", err)
	return true
}

func (j *Job) duplicate(seen map[string]bool, entry ManifestEntry) bool {
	if seen[entry.RemoteName] {
		j.log.Warn("Skipping duplicate manifest entry", "file", entry.RemoteName, "line", entry.Line)
		return true
	}
	seen[entry.RemoteName] = true
	return false
}

func (j *Job) record(entry ManifestEntry, d Disposition) {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.results = append(j.results, Result{Entry: entry, Disposition: d})
}

func (j *Job) summary() *Summary {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	results := slices.Clone(j.results)
	slices.SortStableFunc(results, func(a, b Result) int {
		return a.Entry.Line - b.Entry.Line
	})
	counts := make(map[Disposition]int)
	for _, r := range results {
		counts[r.Disposition]++
	}
	return &Summary{Results: results, Counts: counts}
}

// saveReport writes one tab-separated line per result, replacing the file
// atomically.
func saveReport(fs billy.Filesystem, name string, results []Result) error {
	tmp := name + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}

	for _, r := range results {
		if _, err = fmt.Fprintf(f, "%s\t%s\t%s\n", r.Disposition, r.Entry.RemoteName, r.Entry.Checksum); err != nil {
			break
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to write report: %w", err)
	}
	return fs.Rename(tmp, name)
}
