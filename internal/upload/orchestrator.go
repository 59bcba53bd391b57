// Package upload drives the verification pipeline for one photo batch:
// structural validation, fingerprint dedup, sequential identification, and
// conditional persistence, with live progress streamed per session.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/fanarchive/internal/identify"
	"github.com/your-org/fanarchive/internal/models"
	"github.com/your-org/fanarchive/internal/observability"
	"github.com/your-org/fanarchive/internal/phash"
	"github.com/your-org/fanarchive/internal/progress"
	"github.com/your-org/fanarchive/pkg/dto"
)

// RequiredImageCount is the exact batch size an upload must carry.
const RequiredImageCount = 3

// Pipeline failure classes. Every failure aborts the remaining stages and
// emits exactly one terminal error event; none are retried here.
var (
	ErrAuth           = errors.New("not authenticated")
	ErrValidation     = errors.New("validation failed")
	ErrDuplicate      = errors.New("duplicate image")
	ErrIdentification = errors.New("identification failed")
	ErrPersistence    = errors.New("persistence failed")
)

// UploadFile is one submitted image.
type UploadFile struct {
	FileName    string
	ContentType string
	Size        int64
	Data        []byte
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	UpsertGroupIdol(ctx context.Context, groupName, idolName string) (*models.GroupIdol, error)
	FindPHashesByUser(ctx context.Context, userID uuid.UUID) ([]string, error)
	SaveImage(ctx context.Context, img *models.IdolImage) error
	AdjustImageCount(ctx context.Context, id uuid.UUID, delta int) error
	ListImagesByIdol(ctx context.Context, idolName, groupName string) ([]models.IdolImage, error)
}

// EventPublisher pushes lifecycle events to the message bus. Publishing is
// best-effort: a bus outage never fails an upload.
type EventPublisher interface {
	PublishUploadEvent(ctx context.Context, kind string, data interface{}) error
}

// URLSigner turns a stored object key into a fetchable link. Stored image
// URLs are time-limited, so attached images are re-signed before they leave
// the pipeline.
type URLSigner interface {
	PresignedURL(ctx context.Context, key string) (string, error)
}

// Orchestrator runs one pipeline per request. Collaborators are fixed at
// construction; there is no lookup or injection at runtime.
type Orchestrator struct {
	store     Store
	gateway   identify.Gateway
	signer    URLSigner
	progress  *progress.Broadcaster
	events    EventPublisher
	threshold float64
}

func NewOrchestrator(store Store, gateway identify.Gateway, signer URLSigner, broadcaster *progress.Broadcaster, events EventPublisher, duplicateThreshold float64) *Orchestrator {
	if duplicateThreshold <= 0 {
		duplicateThreshold = phash.DefaultThreshold
	}
	return &Orchestrator{
		store:     store,
		gateway:   gateway,
		signer:    signer,
		progress:  broadcaster,
		events:    events,
		threshold: duplicateThreshold,
	}
}

// ProcessUpload runs the full pipeline for one batch. On any failure the
// returned result is unsuccessful and the error carries the failure class.
//
// Two properties are deliberate and load-bearing:
//   - The dedup read against the user's stored fingerprints is taken once
//     at stage start and is not isolated from concurrent uploads by the
//     same user; a near-duplicate racing through another request can slip
//     past (eventually-consistent dedup).
//   - Each image is persisted immediately after its own identification, so
//     an identification failure on a later image leaves earlier ones
//     committed. There is no rollback.
func (o *Orchestrator) ProcessUpload(ctx context.Context, user *models.User, idolName, groupName string, files []UploadFile, sessionID string) (*dto.UploadResult, error) {
	start := time.Now()

	// Stage 1: identity resolution.
	if user == nil {
		return o.fail(sessionID, "not an authenticated user", ErrAuth)
	}

	groupIdol, err := o.store.UpsertGroupIdol(ctx, groupName, idolName)
	if err != nil {
		return o.fail(sessionID, "could not resolve group identity", fmt.Errorf("%w: %v", ErrPersistence, err))
	}

	o.progress.Publish(sessionID, progress.StageValidation,
		fmt.Sprintf("user %s, group identity %s", user.Username, groupIdol.Key), nil)

	// Stage 2: structural validation.
	stageStart := time.Now()
	o.progress.Publish(sessionID, progress.StageValidation, "validating uploaded files", nil)

	if len(files) != RequiredImageCount {
		return o.fail(sessionID,
			fmt.Sprintf("exactly %d images are required, got %d", RequiredImageCount, len(files)), ErrValidation)
	}
	o.progress.Publish(sessionID, progress.StageValidation,
		fmt.Sprintf("file count confirmed (%d)", RequiredImageCount), nil)

	for i, f := range files {
		if !phash.AllowedContentType(f.ContentType) {
			return o.fail(sessionID,
				fmt.Sprintf("file %d is not a supported image type (%s)", i+1, f.ContentType), ErrValidation)
		}
		o.progress.Publish(sessionID, progress.StageValidation,
			fmt.Sprintf("file %d validated", i+1), nil)
	}
	observability.PipelineStageDuration.WithLabelValues("validation").Observe(time.Since(stageStart).Seconds())

	// Stage 3: fingerprint + duplicate gate. One collision invalidates the
	// whole batch; nothing is persisted.
	stageStart = time.Now()
	o.progress.Publish(sessionID, progress.StageHash, "fingerprinting images and checking duplicates", nil)

	existingHashes, err := o.store.FindPHashesByUser(ctx, user.ID)
	if err != nil {
		return o.fail(sessionID, "could not load existing fingerprints", fmt.Errorf("%w: %v", ErrPersistence, err))
	}
	o.progress.Publish(sessionID, progress.StageHash,
		fmt.Sprintf("loaded %d fingerprints from your gallery", len(existingHashes)), nil)

	newHashes := make([]string, 0, len(files))
	for i, f := range files {
		hash, err := phash.Hash(f.Data)
		if err != nil {
			return o.fail(sessionID,
				fmt.Sprintf("file %d could not be processed: %v", i+1, err), fmt.Errorf("%w: %v", ErrValidation, err))
		}
		o.progress.Publish(sessionID, progress.StageHash,
			fmt.Sprintf("file %d fingerprint %s...", i+1, hash[:8]), nil)

		if _, dup := phash.FindDuplicate(hash, existingHashes, o.threshold); dup {
			observability.DuplicatesDetected.WithLabelValues("gallery").Inc()
			return o.fail(sessionID,
				fmt.Sprintf("image %d is too similar to an image already in your gallery", i+1), ErrDuplicate)
		}
		if _, dup := phash.FindDuplicate(hash, newHashes, o.threshold); dup {
			observability.DuplicatesDetected.WithLabelValues("batch").Inc()
			return o.fail(sessionID,
				fmt.Sprintf("image %d duplicates another image in this upload", i+1), ErrDuplicate)
		}

		o.progress.Publish(sessionID, progress.StageHash,
			fmt.Sprintf("file %d passed duplicate checks", i+1), nil)
		newHashes = append(newHashes, hash)
	}
	o.progress.Publish(sessionID, progress.StageHash, "all duplicate checks passed", nil)
	observability.PipelineStageDuration.WithLabelValues("hash").Observe(time.Since(stageStart).Seconds())

	// Stage 4+5: sequential identification, persisting each image right
	// after its own verdict. Sequential on purpose: deterministic progress
	// order, and no concurrent hammering of the external gateway.
	stageStart = time.Now()
	o.progress.Publish(sessionID, progress.StageAnalysis, "analyzing each image in order", nil)

	results := make([]dto.ImageAnalysisResult, 0, len(files))
	matchedCount := 0

	for i, f := range files {
		o.progress.Publish(sessionID, progress.StageAnalysis,
			fmt.Sprintf("analyzing image %d (%s)", i+1, f.FileName), nil)

		imageStart := time.Now()
		verdict, err := o.gateway.IdentifyUpload(ctx, f.Data, f.ContentType, f.FileName, groupName, idolName)
		if err != nil {
			return o.fail(sessionID,
				fmt.Sprintf("analysis of image %d failed: %v", i+1, err), fmt.Errorf("%w: %v", ErrIdentification, err))
		}
		elapsed := time.Since(imageStart)
		observability.IdentificationDuration.Observe(elapsed.Seconds())

		o.progress.Publish(sessionID, progress.StageAnalysis,
			fmt.Sprintf("image %d analyzed in %dms", i+1, elapsed.Milliseconds()), nil)
		o.progress.Publish(sessionID, progress.StageAnalysis,
			fmt.Sprintf("identified %s (%s), match: %t", verdict.Person, verdict.Group, verdict.Matched), nil)

		results = append(results, dto.ImageAnalysisResult{
			FileName:         f.FileName,
			ImageURL:         verdict.ImageURL,
			PHash:            newHashes[i],
			Match:            verdict.Matched,
			MatchReason:      verdict.Reason,
			IdentifiedPerson: verdict.Person,
			IdentifiedGroup:  verdict.Group,
			Analysis:         verdict.RawAnalysis,
			ProcessingMillis: elapsed.Milliseconds(),
		})

		img := &models.IdolImage{
			IdolName:          idolName,
			GroupName:         groupName,
			ImageURL:          verdict.ImageURL,
			StorageKey:        verdict.StorageKey,
			PHash:             newHashes[i],
			OriginalFileName:  f.FileName,
			FileSize:          f.Size,
			ContentType:       f.ContentType,
			Analysis:          verdict.RawAnalysis,
			InPersonalGallery: true,
			UserID:            user.ID,
			GroupIdolID:       groupIdol.ID,
		}

		if verdict.Matched {
			img.Verified = true
			img.InGroupArchive = true
			matchedCount++
			o.progress.Publish(sessionID, progress.StageSave,
				fmt.Sprintf("image %d matched; adding it to the group archive", i+1), nil)
		} else {
			o.progress.Publish(sessionID, progress.StageSave,
				fmt.Sprintf("image %d saved to your personal gallery only", i+1), nil)
		}

		if err := o.store.SaveImage(ctx, img); err != nil {
			return o.fail(sessionID,
				fmt.Sprintf("saving image %d failed", i+1), fmt.Errorf("%w: %v", ErrPersistence, err))
		}

		if verdict.Matched {
			if err := o.store.AdjustImageCount(ctx, groupIdol.ID, 1); err != nil {
				return o.fail(sessionID,
					fmt.Sprintf("updating archive count for image %d failed", i+1), fmt.Errorf("%w: %v", ErrPersistence, err))
			}
			observability.ImagesArchived.Inc()
			o.publishEvent(ctx, "verified", img)
		}

		o.progress.Publish(sessionID, progress.StageSave,
			fmt.Sprintf("image %d saved (id %s)", i+1, img.ID), nil)
	}
	observability.PipelineStageDuration.WithLabelValues("analysis").Observe(time.Since(stageStart).Seconds())

	o.progress.Publish(sessionID, progress.StageAnalysis, "all images analyzed", nil)
	o.progress.Publish(sessionID, progress.StageValidation,
		fmt.Sprintf("result: %d matched, %d not matched", matchedCount, len(results)-matchedCount), nil)

	// Stage 6: aggregation.
	o.progress.Publish(sessionID, progress.StageDatabase,
		fmt.Sprintf("loading existing images of %s (%s)", idolName, groupName), nil)
	existingImages, err := o.store.ListImagesByIdol(ctx, idolName, groupName)
	if err != nil {
		// The batch itself is already committed; report without the list.
		slog.Warn("list existing images", "idol", idolName, "group", groupName, "error", err)
	}
	o.refreshLinks(ctx, existingImages)
	o.progress.Publish(sessionID, progress.StageDatabase,
		fmt.Sprintf("found %d existing images", len(existingImages)), nil)

	totalMillis := time.Since(start).Milliseconds()

	var message string
	switch {
	case matchedCount == len(results):
		message = "all images were verified and added to the archive"
		observability.UploadsTotal.WithLabelValues("all_matched").Inc()
	case matchedCount > 0:
		message = fmt.Sprintf("%d images were verified and archived; %d did not match", matchedCount, len(results)-matchedCount)
		observability.UploadsTotal.WithLabelValues("partial").Inc()
	default:
		message = "no images matched, so none were added to the archive"
		observability.UploadsTotal.WithLabelValues("none_matched").Inc()
	}

	result := &dto.UploadResult{
		Success:        matchedCount > 0,
		Message:        message,
		SessionID:      sessionID,
		Results:        results,
		ExistingImages: existingImages,
		TotalMillis:    totalMillis,
	}

	o.publishEvent(ctx, "completed", result)
	o.progress.Complete(sessionID, result)

	slog.Info("upload pipeline finished",
		"user", user.Username,
		"group_idol", groupIdol.Key,
		"matched", matchedCount,
		"total_ms", totalMillis,
	)

	return result, nil
}

// fail emits the single terminal error event and returns the unsuccessful
// result alongside the typed error.
func (o *Orchestrator) fail(sessionID, message string, err error) (*dto.UploadResult, error) {
	observability.UploadsTotal.WithLabelValues("failed").Inc()
	o.progress.Fail(sessionID, message)
	o.publishEvent(context.Background(), "rejected", map[string]string{
		"session_id": sessionID,
		"message":    message,
	})
	return &dto.UploadResult{
		Success:   false,
		Message:   message,
		SessionID: sessionID,
	}, err
}

// refreshLinks re-signs each image's stored link from its object key. The
// persisted URL was signed at upload time and may have expired since.
func (o *Orchestrator) refreshLinks(ctx context.Context, images []models.IdolImage) {
	if o.signer == nil {
		return
	}
	for i := range images {
		if images[i].StorageKey == "" {
			continue
		}
		signed, err := o.signer.PresignedURL(ctx, images[i].StorageKey)
		if err != nil {
			slog.Warn("refresh image link", "key", images[i].StorageKey, "error", err)
			continue
		}
		images[i].ImageURL = signed
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, kind string, data interface{}) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishUploadEvent(ctx, kind, data); err != nil {
		slog.Warn("publish upload event", "kind", kind, "error", err)
	}
}
