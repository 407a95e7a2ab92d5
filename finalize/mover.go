// Package finalize relocates a decided artifact into the container that
// matches its decision.
package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/viant/afs"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/workflow"
)

var _ approval.Finalizer = (*Mover)(nil)

// Option configures a Mover.
type Option func(*Mover)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Mover) { m.logger = l } }

// WithService replaces the afs storage service, e.g. with one carrying
// cloud credentials.
func WithService(fs afs.Service) Option { return func(m *Mover) { m.fs = fs } }

// Mover moves artifacts with viant/afs, so any scheme afs understands
// (file, mem, s3, gs) can hold them.
type Mover struct {
	fs     afs.Service
	cfg    approvals.ArtifactConfig
	logger *slog.Logger
}

// NewMover returns a Mover for the containers under cfg.BasePath.
func NewMover(cfg approvals.ArtifactConfig, opts ...Option) *Mover {
	if cfg.BasePath != "" && !strings.HasSuffix(cfg.BasePath, "/") {
		cfg.BasePath += "/"
	}
	m := &Mover{fs: afs.New(), cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Destination returns where the artifact at referenceURL ends up for
// decision.
func (m *Mover) Destination(referenceURL string, decision approval.Decision) string {
	container := m.cfg.RejectedContainer
	if decision == approval.DecisionApproved {
		container = m.cfg.ApprovedContainer
	}
	return m.cfg.BasePath + container + "/" + m.artifactName(referenceURL)
}

// artifactName is the path below the input container, or the last path
// element when the reference lives elsewhere.
func (m *Mover) artifactName(referenceURL string) string {
	inputPrefix := m.cfg.BasePath + m.cfg.InputContainer + "/"
	if name, ok := strings.CutPrefix(referenceURL, inputPrefix); ok && name != "" {
		return name
	}
	return path.Base(referenceURL)
}

// FinalizeArtifact implements approval.Finalizer. A missing source whose
// destination already exists means an earlier attempt finished the move,
// so it reports success. A missing source with no destination is a
// permanent failure.
func (m *Mover) FinalizeArtifact(ctx context.Context, resp approval.ResponseMetadata) (string, error) {
	dest := m.Destination(resp.ReferenceURL, resp.Status)
	if dest == resp.ReferenceURL {
		return dest, nil
	}

	srcExists, err := m.fs.Exists(ctx, resp.ReferenceURL)
	if err != nil {
		return "", fmt.Errorf("finalize: check source %q: %w", resp.ReferenceURL, err)
	}
	if !srcExists {
		destExists, destErr := m.fs.Exists(ctx, dest)
		if destErr != nil {
			return "", fmt.Errorf("finalize: check destination %q: %w", dest, destErr)
		}
		if destExists {
			return dest, nil
		}
		return "", workflow.NonRetryable(fmt.Errorf("%w: %s", approvals.ErrArtifactNotFound, resp.ReferenceURL))
	}

	if err := m.fs.Move(ctx, resp.ReferenceURL, dest); err != nil {
		return "", fmt.Errorf("finalize: move %q to %q: %w", resp.ReferenceURL, dest, err)
	}
	m.logger.Info("artifact moved",
		slog.String("source", resp.ReferenceURL),
		slog.String("destination", dest),
		slog.String("decision", string(resp.Status)),
	)
	return dest, nil
}
