package acquire

import (
	"context"
	"fmt"
	"time"

	"bookfetch/pkg/archive"
	"bookfetch/pkg/cache"
	"bookfetch/pkg/downloader"
)

// DownloadStage retrieves the archive into the cache download area.
func DownloadStage(ctx context.Context, m *Manager, plan *Plan) error {
	m.logger.Info("Downloading content", "url", plan.URL, "key", plan.Key.String())

	task := m.newTask(plan.Key.String())
	defer task.Done()

	var opts []downloader.FetchOption
	if plan.Digest != "" {
		opts = append(opts, downloader.ExpectDigest(plan.Digest))
	}
	a, err := m.fetcher.Fetch(ctx, plan.URL, task, opts...)
	if err != nil {
		return err
	}
	plan.Archive = a
	return nil
}

// ExtractStage unpacks the downloaded archive into the unit directory and
// writes the unit manifest. The archive is not retained.
func ExtractStage(ctx context.Context, m *Manager, plan *Plan) error {
	a := plan.Archive
	defer func() {
		if err := a.Remove(); err != nil {
			m.logger.Warn("Failed to remove downloaded archive", "path", a.Path, "error", err)
		}
	}()

	format, err := archive.DetectFormat(a.Path, plan.URL)
	if err != nil {
		return &archive.ExtractionError{Archive: plan.URL, Cause: err}
	}
	if plan.Format != archive.FormatUnknown && format != plan.Format {
		m.logger.Debug("Archive content differs from its name", "url", plan.URL, "expected", plan.Format, "detected", format)
	}
	plan.Format = format

	loc := plan.Request.Location
	manifest := &cache.Manifest{
		Key:       plan.Key.String(),
		Location:  loc.Identity(),
		Kind:      loc.Kind.String(),
		SourceURL: plan.URL,
		Format:    format.String(),
		SHA256:    a.SHA256,
		Size:      a.Size,
		CreatedAt: time.Now().UTC(),
	}
	if plan.Request.Release != nil {
		manifest.Tag = plan.Request.Release.Tag
	}

	m.logger.Info("Extracting content", "path", plan.UnitPath, "format", format)
	// Stages only run when the unit is missing or invalid, so whatever sits
	// at UnitPath is replaced.
	_, err = archive.Extract(a.Path, format, plan.UnitPath, archive.Options{
		Force:    true,
		MaxBytes: m.maxExtract,
		Logger:   m.logger,
		Finalize: func(staging string) error {
			return cache.WriteManifest(staging, manifest)
		},
	})
	return err
}

// Run executes the stages of plan in order.
func (m *Manager) Run(ctx context.Context, plan *Plan, stages ...Stage) error {
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stage(ctx, m, plan); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) install(ctx context.Context, plan *Plan) error {
	defer func() {
		if plan.Archive != nil {
			plan.Archive.Remove()
		}
	}()
	if err := m.Run(ctx, plan, DownloadStage, ExtractStage); err != nil {
		return fmt.Errorf("acquire %s: %w", plan.Key, err)
	}
	m.logger.Info("Acquisition complete", "key", plan.Key.String(), "path", plan.UnitPath)
	return nil
}
