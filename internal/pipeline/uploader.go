package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flupke/radar-uploader/internal/evidence"
)

// photosEndpoint is appended to the backend's API base URL (spec.md §6).
const photosEndpoint = "/api/photos"

// Archiver is the subset of archive.Archiver the uploader needs; satisfied
// by *archive.Archiver, nil meaning the cold-storage tier is disabled.
// jpegData/jsonData are passed alongside the paths (for naming) because by
// the time ArchivePair runs, the uploader has already deleted the local
// files on a successful upload — it must bundle from the bytes it already
// holds, never re-read the now-gone paths.
type Archiver interface {
	ArchivePair(ctx context.Context, jpegPath string, jpegData []byte, jsonPath string, jsonData []byte) error
}

// Uploader is the uploader actor (spec.md §4.2): it scans the evidence
// directory on NotifyInfraction, POSTs each pending pair to the backend, and
// deletes local copies once the backend accepts.
type Uploader struct {
	evidenceDir string
	apiURL      string
	apiKey      string
	httpClient  *http.Client
	archiver    Archiver
	logger      *slog.Logger

	// idleCron drives a low-frequency wakeup that re-sends NotifyInfraction
	// during radar idleness (SPEC_FULL.md's resolution of spec.md §9's open
	// question), grounded on the teacher's cron-backed Scheduler. Nil
	// disables the wakeup; Start/Stop manage its lifecycle.
	idleCron *cron.Cron
}

// NewUploader builds an Uploader. archiver may be nil to disable the
// optional S3 cold-storage tier.
func NewUploader(evidenceDir, apiURL, apiKey string, archiver Archiver, logger *slog.Logger) *Uploader {
	return &Uploader{
		evidenceDir: evidenceDir,
		apiURL:      strings.TrimRight(apiURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		archiver:    archiver,
		logger:      logger.With("component", "uploader"),
	}
}

// StartIdleWakeup registers a cron schedule (e.g. "@every 5m") that calls
// notify on every tick, letting stranded evidence drain even when no new
// infraction arrives to drive NotifyInfraction. Stop it via StopIdleWakeup
// on shutdown.
func (u *Uploader) StartIdleWakeup(schedule string, notify func()) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, notify); err != nil {
		return fmt.Errorf("uploader: scheduling idle wakeup %q: %w", schedule, err)
	}
	u.idleCron = c
	u.idleCron.Start()
	u.logger.Info("idle upload wakeup scheduled", "schedule", schedule)
	return nil
}

// StopIdleWakeup stops the idle wakeup cron, if one was started.
func (u *Uploader) StopIdleWakeup() {
	if u.idleCron != nil {
		ctx := u.idleCron.Stop()
		<-ctx.Done()
	}
}

// Receive implements actorsys.Actor[UploaderCommand].
func (u *Uploader) Receive(ctx context.Context, cmd UploaderCommand) error {
	switch cmd {
	case NotifyInfraction:
		u.uploadPending(ctx)
		return nil
	case Shutdown:
		return errShutdown
	}
	return nil
}

var errShutdown = fmt.Errorf("uploader: shutdown requested")

// uploadPending scans the evidence directory for .json files and attempts
// delivery of each pending pair, serialised within this actor (spec.md
// §4.2). Directory order is unspecified; no parallelism across files.
func (u *Uploader) uploadPending(ctx context.Context) {
	entries, err := os.ReadDir(u.evidenceDir)
	if err != nil {
		u.logger.Error("reading evidence directory failed", "dir", u.evidenceDir, "error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		jsonPath := filepath.Join(u.evidenceDir, entry.Name())
		jpegPath := evidence.JPEGPathFor(jsonPath)
		u.uploadPair(ctx, jpegPath, jsonPath)
	}
}

func (u *Uploader) uploadPair(ctx context.Context, jpegPath, jsonPath string) {
	jsonData, err := os.ReadFile(jsonPath)
	if err != nil {
		u.logger.Error("reading infraction json failed", "path", jsonPath, "error", err)
		return
	}
	jpegData, err := os.ReadFile(jpegPath)
	if err != nil {
		u.logger.Error("reading jpeg failed, leaving pair in place", "path", jpegPath, "error", err)
		return
	}

	body, contentType, err := buildMultipart(jpegPath, jpegData, jsonData)
	if err != nil {
		u.logger.Error("building multipart body failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.apiURL+photosEndpoint, body)
	if err != nil {
		u.logger.Error("building upload request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-api-key", u.apiKey)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		u.logger.Error("upload request failed, will retry on next infraction", "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u.logger.Error("upload rejected, leaving evidence in place for retry",
			"status", resp.StatusCode, "json", jsonPath)
		return
	}

	if err := os.Remove(jsonPath); err != nil {
		u.logger.Error("deleting uploaded json failed", "path", jsonPath, "error", err)
	}
	if err := os.Remove(jpegPath); err != nil {
		u.logger.Error("deleting uploaded jpeg failed", "path", jpegPath, "error", err)
	}
	u.logger.Info("evidence uploaded", "json", jsonPath)

	if u.archiver != nil {
		// Fire-and-forget: archival failure must never block or retry the
		// primary delivery path, which has already succeeded and deleted
		// the local files. Bundled from jpegData/jsonData, read above,
		// rather than the now-deleted paths.
		if err := u.archiver.ArchivePair(ctx, jpegPath, jpegData, jsonPath, jsonData); err != nil {
			u.logger.Warn("cold-storage archival failed", "error", err)
		}
	}
}

func buildMultipart(jpegName string, jpeg, infractionJSON []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	// multipart.Writer.CreateFormFile hardcodes Content-Type:
	// application/octet-stream; spec §4.2/§6 require the photo part to be
	// image/jpeg, so the header is built by hand via CreatePart instead.
	photoHeader := make(textproto.MIMEHeader)
	photoHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="photo"; filename=%q`, filepath.Base(jpegName)))
	photoHeader.Set("Content-Type", "image/jpeg")
	photoPart, err := w.CreatePart(photoHeader)
	if err != nil {
		return nil, "", fmt.Errorf("creating photo part: %w", err)
	}
	if _, err := photoPart.Write(jpeg); err != nil {
		return nil, "", fmt.Errorf("writing photo part: %w", err)
	}

	infractionPart, err := w.CreateFormField("infraction")
	if err != nil {
		return nil, "", fmt.Errorf("creating infraction part: %w", err)
	}
	if _, err := infractionPart.Write(infractionJSON); err != nil {
		return nil, "", fmt.Errorf("writing infraction part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}
