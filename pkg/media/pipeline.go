// Package media downloads remote video or audio, checks it against the
// transport's upload ceiling and hands it to a delivery callback. Every run
// owns a scratch directory that is removed before FetchAndDeliver returns.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"mehranbot/pkg/failure"
	"mehranbot/pkg/logger"
)

// Kind selects what the retriever extracts.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// State is a pipeline stage.
type State string

const (
	StateStarted    State = "started"
	StateFetching   State = "fetching"
	StateValidating State = "validating"
	StateUploading  State = "uploading"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Reason explains a failed outcome.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonRetrievalFailed Reason = "retrieval_failed"
	ReasonTooLarge        Reason = "too_large"
	ReasonDeliveryFailed  Reason = "delivery_failed"
)

// Request is one fetch-and-deliver job. SizeLimit <= 0 disables the check.
type Request struct {
	URL       string
	Kind      Kind
	SizeLimit int64
}

// Artifact is a retrieved file inside a run's workspace.
type Artifact struct {
	Path string
	Size int64
	Kind Kind
}

// Outcome is the terminal result of one run.
type Outcome struct {
	State    State
	Reason   Reason
	Artifact Artifact
	Err      error
}

// Progress receives human-readable status updates as the run advances.
type Progress interface {
	Update(ctx context.Context, text string)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(ctx context.Context, text string)

func (f ProgressFunc) Update(ctx context.Context, text string) { f(ctx, text) }

// DeliverFunc uploads the artifact to the requester.
type DeliverFunc func(ctx context.Context, artifact Artifact) error

// Pipeline wires a Store and a Retriever.
type Pipeline struct {
	store     *Store
	retriever Retriever
	log       *slog.Logger
}

func NewPipeline(store *Store, retriever Retriever, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		retriever: retriever,
		log:       logger.Component(log, "media.pipeline"),
	}
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return failure.New(failure.KindUserInput, "a valid http(s) URL is required")
	}
	return nil
}

// FetchAndDeliver runs Started → Fetching → Validating → Uploading →
// Completed. The workspace is released on every exit path, panics included.
func (p *Pipeline) FetchAndDeliver(ctx context.Context, req Request, progress Progress, deliver DeliverFunc) Outcome {
	if progress == nil {
		progress = ProgressFunc(func(context.Context, string) {})
	}
	log := p.log.With("kind", req.Kind, "url", req.URL)
	startedAt := time.Now()
	state := StateStarted

	advance := func(next State) {
		log.Debug("Pipeline state changed", "from", state, "to", next)
		state = next
	}
	fail := func(reason Reason, err error, text string) Outcome {
		log.Warn("Pipeline failed", "state", state, "reason", reason, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		progress.Update(ctx, text)
		return Outcome{State: StateFailed, Reason: reason, Err: err}
	}

	workspace, err := p.store.Acquire()
	if err != nil {
		return fail(ReasonRetrievalFailed, failure.Wrap(failure.KindInternal, err, "allocate download directory"), downloadFailedText(err))
	}
	defer workspace.Release()

	advance(StateFetching)
	progress.Update(ctx, fmt.Sprintf("Downloading %s…", req.Kind))

	path, err := p.retriever.Fetch(ctx, req.URL, req.Kind, workspace.Dir())
	if err != nil {
		return fail(ReasonRetrievalFailed, err, downloadFailedText(err))
	}
	if !workspace.Contains(path) {
		err := failure.New(failure.KindExternalUnavailable, "retriever returned a path outside the download directory")
		return fail(ReasonRetrievalFailed, err, downloadFailedText(err))
	}

	advance(StateValidating)
	progress.Update(ctx, "Download complete, uploading…")

	info, err := os.Stat(path)
	if err != nil {
		err = failure.Wrap(failure.KindInternal, err, "stat downloaded file")
		return fail(ReasonRetrievalFailed, err, downloadFailedText(err))
	}
	artifact := Artifact{Path: path, Size: info.Size(), Kind: req.Kind}

	if req.SizeLimit > 0 && artifact.Size > req.SizeLimit {
		// Drop the file now rather than holding it until the deferred release.
		if err := os.Remove(path); err != nil {
			log.Warn("Failed to remove oversized file", "path", path, "error", err)
		}
		text := fmt.Sprintf("File too large to upload (%s, limit %s).", formatMB(artifact.Size), formatMB(req.SizeLimit))
		return fail(ReasonTooLarge, failure.New(failure.KindResourceLimit, text), text)
	}

	advance(StateUploading)
	if err := safeDeliver(ctx, deliver, artifact); err != nil {
		return fail(ReasonDeliveryFailed, err, "Upload failed, please try again later.")
	}

	advance(StateCompleted)
	progress.Update(ctx, "Upload complete.")
	log.Info("Media delivered", "bytes", artifact.Size, "duration_ms", time.Since(startedAt).Milliseconds())

	return Outcome{State: StateCompleted, Artifact: artifact}
}

func safeDeliver(ctx context.Context, deliver DeliverFunc, artifact Artifact) (err error) {
	if deliver == nil {
		return failure.New(failure.KindInternal, "no delivery target")
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			err = failure.Wrap(failure.KindInternal, fmt.Errorf("panic: %v", recovered), "deliver media")
		}
	}()

	return deliver(ctx, artifact)
}

func downloadFailedText(err error) string {
	switch {
	case failure.Is(err, failure.KindExternalTimeout), errors.Is(err, context.DeadlineExceeded):
		return "Download failed: the download timed out."
	case failure.Is(err, failure.KindInternal):
		return "Download failed: something went wrong on our side."
	default:
		return "Download failed: the media could not be retrieved from that URL."
	}
}

func formatMB(size int64) string {
	return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
}
