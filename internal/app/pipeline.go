package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/api"
	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/convert"
)

const tracerName = "github.com/zeynepaki/tgv-prototype/internal/app"

// stage moves the status to s and opens a span for it.
func (a *App) stage(ctx context.Context, s api.Stage) (context.Context, trace.Span) {
	a.status.Enter(s)
	return otel.Tracer(tracerName).Start(ctx, "harvester."+string(s))
}

// Run executes fetch, convert, ship, and load in order. Sink settings are validated before any
// archive is contacted. Failed fetch units do not stop the run but make it return
// ErrFetchIncomplete at the end; degraded output is shipped but not loaded.
func (a *App) Run(ctx context.Context, kinds []archive.Kind) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "harvester.run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.status.Fail(err)
		} else {
			a.status.Enter(api.StageDone)
		}
		span.End()
	}()

	ld, err := a.Loader()
	if err != nil {
		return err
	}
	shipper, err := a.Shipper(ctx)
	if err != nil {
		return err
	}

	fctx, fspan := a.stage(ctx, api.StageFetching)
	report, fetchErr := a.Fetch(fctx, kinds)
	fspan.SetAttributes(attribute.Int("succeeded", report.Succeeded), attribute.Int("failed", report.Failed))
	fspan.End()
	a.status.RecordFetch(report)
	if fetchErr != nil && !errors.Is(fetchErr, ErrFetchIncomplete) {
		return fmt.Errorf("fetch: %w", fetchErr)
	}

	cctx, cspan := a.stage(ctx, api.StageConverting)
	path := a.cfg.Convert.Output
	conv, convErr := a.Convert(cctx, path)
	cspan.SetAttributes(attribute.String("run_id", conv.RunID), attribute.Int("records", conv.Records))
	cspan.End()
	a.status.RecordConvert(conv)
	degraded := errors.Is(convErr, convert.ErrDegradedOutput)
	if convErr != nil && !degraded {
		return fmt.Errorf("convert: %w", convErr)
	}

	if shipper.Enabled() {
		sctx, sspan := a.stage(ctx, api.StageShipping)
		_, err := shipper.Ship(sctx, path, conv, degraded)
		sspan.End()
		if err != nil {
			return fmt.Errorf("ship: %w", err)
		}
	}
	if degraded {
		a.logger.Error("Skipping load of degraded output",
			zap.String("run_id", conv.RunID),
			zap.Int("dropped_records", conv.DroppedRecords),
			zap.Int("files", conv.Files))
		return errors.Join(fetchErr, convErr)
	}

	lctx, lspan := a.stage(ctx, api.StageLoading)
	res, err := ld.LoadFile(lctx, path)
	lspan.End()
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	a.status.RecordLoad(res)

	a.logger.Info("Run finished",
		zap.String("run_id", conv.RunID),
		zap.Int("fetched", report.Succeeded),
		zap.Int("records", conv.Records),
		zap.Int("documents", res.Documents))
	return fetchErr
}
