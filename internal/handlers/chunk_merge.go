package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

// ChunkMergeHandler reassembles an uploaded file from numbered chunks and
// enqueues the import of the result.
type ChunkMergeHandler struct {
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewChunkMergeHandler creates a chunk-merge handler.
func NewChunkMergeHandler(enqueuer Enqueuer, logger *slog.Logger) *ChunkMergeHandler {
	return &ChunkMergeHandler{
		enqueuer: enqueuer,
		logger:   loggerOrDefault(logger).With("handler", string(jobs.KindChunkMerge)),
	}
}

func (h *ChunkMergeHandler) Kind() jobs.Kind { return jobs.KindChunkMerge }

// ChunkPath returns the path of chunk i inside dir.
func ChunkPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk-%d", i))
}

func (h *ChunkMergeHandler) Handle(ctx context.Context, job *jobs.Job, payload jobs.Payload, r jobs.Reporter) (jobs.Progress, error) {
	p, ok := payload.(*jobs.ChunkMergePayload)
	if !ok {
		return jobs.Progress{}, jobs.Permanentf("unexpected payload %T for %s", payload, h.Kind())
	}

	var prog jobs.Progress
	if err := os.MkdirAll(filepath.Dir(p.DestPath), 0o755); err != nil {
		return prog, jobs.Transient(fmt.Errorf("failed to create destination directory; %w", err))
	}

	partial := p.DestPath + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return prog, jobs.Transient(fmt.Errorf("failed to create merge file; %w", err))
	}
	cleanup := func() {
		out.Close()
		os.Remove(partial)
	}

	for i := 0; i < p.TotalChunks; i++ {
		if err := r.Checkpoint(ctx); err != nil {
			cleanup()
			return prog, err
		}
		if err := appendChunk(out, ChunkPath(p.ChunkDir, i)); err != nil {
			cleanup()
			prog.Errors++
			return prog, err
		}
		prog.Processed++
		prog.Valid++
		if err := r.Report(ctx, prog); err != nil {
			cleanup()
			return prog, err
		}
	}

	if err := out.Sync(); err != nil {
		cleanup()
		return prog, jobs.Transient(fmt.Errorf("failed to sync merge file; %w", err))
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return prog, jobs.Transient(fmt.Errorf("failed to close merge file; %w", err))
	}
	if err := os.Rename(partial, p.DestPath); err != nil {
		os.Remove(partial)
		return prog, jobs.Transient(fmt.Errorf("failed to move merge file into place; %w", err))
	}

	if h.enqueuer == nil {
		return prog, jobs.Permanentf("no enqueuer configured for follow-up import")
	}
	importID, err := h.enqueuer.EnqueuePayload(ctx, &jobs.ImportPayload{
		WorkspaceID: p.WorkspaceID,
		ListID:      p.ListID,
		UploadID:    p.UploadID,
		SourcePath:  p.DestPath,
	})
	if err != nil {
		if jobs.IsPermanent(err) {
			return prog, err
		}
		return prog, jobs.Transient(fmt.Errorf("failed to enqueue import; %w", err))
	}

	h.logger.Info("chunks merged",
		"job_id", job.ID,
		"upload_id", p.UploadID,
		"chunks", p.TotalChunks,
		"import_job_id", importID,
	)
	return prog, nil
}

func appendChunk(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return jobs.Permanentf("chunk %s missing", filepath.Base(path))
		}
		return jobs.Transient(fmt.Errorf("failed to open chunk; %w", err))
	}
	defer f.Close()

	if _, err := io.Copy(dst, f); err != nil {
		return jobs.Transient(fmt.Errorf("failed to copy chunk %s; %w", filepath.Base(path), err))
	}
	return nil
}
