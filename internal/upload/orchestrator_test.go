package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fanarchive/internal/identify"
	"github.com/your-org/fanarchive/internal/models"
	"github.com/your-org/fanarchive/internal/phash"
	"github.com/your-org/fanarchive/internal/progress"
)

type fakeStore struct {
	mu sync.Mutex

	groupIdol   *models.GroupIdol
	knownHashes []string
	saved       []models.IdolImage
	countDelta  int

	upsertErr error
	hashesErr error
	saveErr   error
	saveErrAt int // 1-based index of the save that fails; 0 means every save
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groupIdol: &models.GroupIdol{
			ID:        uuid.New(),
			GroupName: "NewJeans",
			IdolName:  "Haerin",
			Key:       models.GroupIdolKey("NewJeans", "Haerin"),
		},
	}
}

func (s *fakeStore) UpsertGroupIdol(_ context.Context, _, _ string) (*models.GroupIdol, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	return s.groupIdol, nil
}

func (s *fakeStore) FindPHashesByUser(_ context.Context, _ uuid.UUID) ([]string, error) {
	if s.hashesErr != nil {
		return nil, s.hashesErr
	}
	return s.knownHashes, nil
}

func (s *fakeStore) SaveImage(_ context.Context, img *models.IdolImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil && (s.saveErrAt == 0 || s.saveErrAt == len(s.saved)+1) {
		return s.saveErr
	}
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	img.UploadedAt = time.Now()
	s.saved = append(s.saved, *img)
	return nil
}

func (s *fakeStore) AdjustImageCount(_ context.Context, _ uuid.UUID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countDelta += delta
	return nil
}

func (s *fakeStore) ListImagesByIdol(_ context.Context, _, _ string) ([]models.IdolImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.IdolImage(nil), s.saved...), nil
}

// fakeGateway returns canned verdicts in call order.
type fakeGateway struct {
	mu       sync.Mutex
	verdicts []identify.Verdict
	errs     []error
	calls    int
}

func (g *fakeGateway) IdentifyUpload(_ context.Context, _ []byte, _, fileName, _, _ string) (*identify.Verdict, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	v := g.verdicts[i]
	v.ImageURL = "https://cdn.example.com/" + fileName
	v.StorageKey = "uploads/" + fileName
	return &v, nil
}

func (g *fakeGateway) IdentifyURL(_ context.Context, _, _, _ string) (*identify.Verdict, error) {
	return nil, errors.New("not used")
}

// fakeSigner issues deterministic fresh links so re-signing is observable.
type fakeSigner struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSigner) PresignedURL(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "https://cdn.example.com/fresh/" + key, nil
}

type fakeEvents struct {
	mu    sync.Mutex
	kinds []string
}

func (e *fakeEvents) PublishUploadEvent(_ context.Context, kind string, _ interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind)
	return nil
}

func (e *fakeEvents) published() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.kinds...)
}

func matched(person, group string) identify.Verdict {
	return identify.Verdict{Person: person, Group: group, Matched: true, Reason: "facial features match"}
}

func unmatched() identify.Verdict {
	return identify.Verdict{Person: "unknown", Group: "unknown", Matched: false, Reason: "no resemblance"}
}

func testUser() *models.User {
	return &models.User{ID: uuid.New(), Username: "bunnies4ever"}
}

// jpegFile encodes one of three structurally different patterns, keyed by
// seed, so fingerprints sit well apart from each other.
func jpegFile(t *testing.T, name string, seed int) UploadFile {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			var v uint8
			switch seed % 3 {
			case 0: // checkerboard
				if (x/8+y/8)%2 == 0 {
					v = 255
				}
			case 1: // horizontal gradient
				v = uint8(x * 4)
			default: // vertical gradient
				v = uint8(y * 4)
			}
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return UploadFile{
		FileName:    name,
		ContentType: "image/jpeg",
		Size:        int64(buf.Len()),
		Data:        buf.Bytes(),
	}
}

func threeFiles(t *testing.T) []UploadFile {
	t.Helper()
	return []UploadFile{
		jpegFile(t, "a.jpg", 1),
		jpegFile(t, "b.jpg", 2),
		jpegFile(t, "c.jpg", 3),
	}
}

func newTestOrchestrator(store *fakeStore, gw *fakeGateway, events *fakeEvents) (*Orchestrator, *progress.Broadcaster) {
	b := progress.NewBroadcaster()
	return NewOrchestrator(store, gw, &fakeSigner{}, b, events, phash.DefaultThreshold), b
}

// drainTerminal consumes events until the subscriber channel closes and
// returns the terminal event.
func drainTerminal(t *testing.T, sub *progress.Subscriber) progress.Event {
	t.Helper()
	var last progress.Event
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return last
			}
			last = ev
		case <-time.After(2 * time.Second):
			t.Fatal("no terminal event before timeout")
		}
	}
}

func TestProcessUploadAllMatched(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{verdicts: []identify.Verdict{
		matched("Haerin", "NewJeans"), matched("Haerin", "NewJeans"), matched("Haerin", "NewJeans"),
	}}
	events := &fakeEvents{}
	orch, b := newTestOrchestrator(store, gw, events)

	sessionID := uuid.NewString()
	sub := b.Subscribe(sessionID)

	result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", threeFiles(t), sessionID)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Success)
	assert.Equal(t, "all images were verified and added to the archive", result.Message)
	assert.Len(t, result.Results, 3)
	for _, r := range result.Results {
		assert.True(t, r.Match)
		assert.Len(t, r.PHash, 16)
		assert.NotEmpty(t, r.ImageURL)
	}

	require.Len(t, store.saved, 3)
	for _, img := range store.saved {
		assert.True(t, img.Verified)
		assert.True(t, img.InGroupArchive)
		assert.True(t, img.InPersonalGallery)
	}
	assert.Equal(t, 3, store.countDelta)
	assert.Len(t, result.ExistingImages, 3)

	ev := drainTerminal(t, sub)
	assert.Equal(t, progress.KindComplete, ev.Kind)
	assert.Equal(t, progress.StageComplete, ev.Stage)

	kinds := events.published()
	assert.Equal(t, []string{"verified", "verified", "verified", "completed"}, kinds)
}

func TestProcessUploadPartialMatch(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{verdicts: []identify.Verdict{
		matched("Haerin", "NewJeans"), unmatched(), unmatched(),
	}}
	orch, b := newTestOrchestrator(store, gw, &fakeEvents{})

	sessionID := uuid.NewString()
	sub := b.Subscribe(sessionID)

	result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", threeFiles(t), sessionID)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "1 images were verified")
	assert.Contains(t, result.Message, "2 did not match")

	require.Len(t, store.saved, 3)
	assert.True(t, store.saved[0].InGroupArchive)
	assert.False(t, store.saved[1].InGroupArchive)
	assert.False(t, store.saved[2].InGroupArchive)
	assert.Equal(t, 1, store.countDelta)

	ev := drainTerminal(t, sub)
	assert.Equal(t, progress.KindComplete, ev.Kind)
}

func TestProcessUploadNoneMatched(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{verdicts: []identify.Verdict{unmatched(), unmatched(), unmatched()}}
	orch, _ := newTestOrchestrator(store, gw, &fakeEvents{})

	result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", threeFiles(t), uuid.NewString())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "none were added")
	// Unmatched images still land in the personal gallery.
	require.Len(t, store.saved, 3)
	for _, img := range store.saved {
		assert.False(t, img.Verified)
		assert.False(t, img.InGroupArchive)
		assert.True(t, img.InPersonalGallery)
	}
	assert.Equal(t, 0, store.countDelta)
}

func TestProcessUploadNilUser(t *testing.T) {
	orch, b := newTestOrchestrator(newFakeStore(), &fakeGateway{}, &fakeEvents{})

	sessionID := uuid.NewString()
	sub := b.Subscribe(sessionID)

	result, err := orch.ProcessUpload(context.Background(), nil, "Haerin", "NewJeans", threeFiles(t), sessionID)
	require.ErrorIs(t, err, ErrAuth)
	assert.False(t, result.Success)

	ev := drainTerminal(t, sub)
	assert.Equal(t, progress.KindError, ev.Kind)
}

func TestProcessUploadWrongFileCount(t *testing.T) {
	store := newFakeStore()
	orch, _ := newTestOrchestrator(store, &fakeGateway{}, &fakeEvents{})

	for _, n := range []int{0, 1, 2, 4} {
		files := make([]UploadFile, 0, n)
		for i := 0; i < n; i++ {
			files = append(files, jpegFile(t, fmt.Sprintf("f%d.jpg", i), i+1))
		}
		result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", files, uuid.NewString())
		require.ErrorIs(t, err, ErrValidation, "count %d", n)
		assert.False(t, result.Success)
	}
	assert.Empty(t, store.saved)
}

func TestProcessUploadRejectsContentType(t *testing.T) {
	store := newFakeStore()
	orch, _ := newTestOrchestrator(store, &fakeGateway{}, &fakeEvents{})

	files := threeFiles(t)
	files[1].ContentType = "application/pdf"

	result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", files, uuid.NewString())
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, result.Message, "file 2")
	assert.Empty(t, store.saved)
}

func TestProcessUploadGalleryDuplicateAborts(t *testing.T) {
	store := newFakeStore()
	files := threeFiles(t)

	// Seed the gallery with the exact fingerprint of the second file.
	h, err := phash.Hash(files[1].Data)
	require.NoError(t, err)
	store.knownHashes = []string{h}

	gw := &fakeGateway{verdicts: []identify.Verdict{matched("Haerin", "NewJeans")}}
	orch, b := newTestOrchestrator(store, gw, &fakeEvents{})

	sessionID := uuid.NewString()
	sub := b.Subscribe(sessionID)

	result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", files, sessionID)
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, result.Message, "image 2")

	// Nothing persisted and nothing analyzed: the batch is rejected whole.
	assert.Empty(t, store.saved)
	assert.Equal(t, 0, gw.calls)

	ev := drainTerminal(t, sub)
	assert.Equal(t, progress.KindError, ev.Kind)
}

func TestProcessUploadBatchDuplicateAborts(t *testing.T) {
	store := newFakeStore()
	files := threeFiles(t)
	files[2] = jpegFile(t, "copy.jpg", 1) // same pixels as files[0]

	orch, _ := newTestOrchestrator(store, &fakeGateway{}, &fakeEvents{})

	result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", files, uuid.NewString())
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, result.Message, "image 3")
	assert.Empty(t, store.saved)
}

func TestProcessUploadIdentificationFailureKeepsEarlierImages(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{
		verdicts: []identify.Verdict{matched("Haerin", "NewJeans"), {}, {}},
		errs:     []error{nil, errors.New("lens timeout")},
	}
	orch, b := newTestOrchestrator(store, gw, &fakeEvents{})

	sessionID := uuid.NewString()
	sub := b.Subscribe(sessionID)

	result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", threeFiles(t), sessionID)
	require.ErrorIs(t, err, ErrIdentification)
	assert.False(t, result.Success)

	// The first image was already committed before the second one failed.
	require.Len(t, store.saved, 1)
	assert.True(t, store.saved[0].InGroupArchive)
	assert.Equal(t, 1, store.countDelta)
	assert.Equal(t, 2, gw.calls)

	ev := drainTerminal(t, sub)
	assert.Equal(t, progress.KindError, ev.Kind)
}

func TestProcessUploadSaveFailure(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("connection reset")
	store.saveErrAt = 2
	gw := &fakeGateway{verdicts: []identify.Verdict{
		matched("Haerin", "NewJeans"), matched("Haerin", "NewJeans"), matched("Haerin", "NewJeans"),
	}}
	orch, _ := newTestOrchestrator(store, gw, &fakeEvents{})

	result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", threeFiles(t), uuid.NewString())
	require.ErrorIs(t, err, ErrPersistence)
	assert.False(t, result.Success)
	require.Len(t, store.saved, 1)
}

func TestProcessUploadUpsertFailure(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.New("database down")
	orch, _ := newTestOrchestrator(store, &fakeGateway{}, &fakeEvents{})

	_, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", threeFiles(t), uuid.NewString())
	require.ErrorIs(t, err, ErrPersistence)
}

// pngCheckerboard draws the 8px checkerboard losslessly. When perturbed, a
// small corner region is inverted: the fingerprint moves by a couple of bits
// but stays inside the duplicate threshold.
func pngCheckerboard(t *testing.T, name string, perturbed bool) UploadFile {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			var v uint8
			if (x/8+y/8)%2 == 0 {
				v = 255
			}
			if perturbed && x < 2 && y < 4 {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return UploadFile{
		FileName:    name,
		ContentType: "image/png",
		Size:        int64(buf.Len()),
		Data:        buf.Bytes(),
	}
}

func TestProcessUploadNearDuplicateAborts(t *testing.T) {
	store := newFakeStore()
	files := []UploadFile{
		pngCheckerboard(t, "a.png", false),
		pngCheckerboard(t, "b.png", true),
		jpegFile(t, "c.jpg", 2),
	}

	// Distinct fingerprints, yet similar beyond the threshold: the pair must
	// trip the duplicate gate without being byte-identical.
	ha, err := phash.Hash(files[0].Data)
	require.NoError(t, err)
	hb, err := phash.Hash(files[1].Data)
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)
	require.GreaterOrEqual(t, phash.Similarity(ha, hb), phash.DefaultThreshold)
	require.Less(t, phash.Similarity(ha, hb), 1.0)

	gw := &fakeGateway{}
	orch, _ := newTestOrchestrator(store, gw, &fakeEvents{})

	result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", files, uuid.NewString())
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, result.Message, "image 2")
	assert.Empty(t, store.saved)
	assert.Equal(t, 0, gw.calls)
}

func TestProcessUploadRefreshesAttachedImageLinks(t *testing.T) {
	store := newFakeStore()
	// A prior upload whose stored link was signed long ago.
	store.saved = append(store.saved, models.IdolImage{
		ID:         uuid.New(),
		IdolName:   "Haerin",
		GroupName:  "NewJeans",
		StorageKey: "uploads/2026/01/01/old.jpg",
		ImageURL:   "https://minio.internal/archive/old.jpg?X-Amz-Expires=3600",
	})

	gw := &fakeGateway{verdicts: []identify.Verdict{
		matched("Haerin", "NewJeans"), matched("Haerin", "NewJeans"), matched("Haerin", "NewJeans"),
	}}
	signer := &fakeSigner{}
	b := progress.NewBroadcaster()
	orch := NewOrchestrator(store, gw, signer, b, &fakeEvents{}, phash.DefaultThreshold)

	result, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", threeFiles(t), uuid.NewString())
	require.NoError(t, err)

	// Every attached image carries a link re-signed from its key, not the
	// stored string.
	require.Len(t, result.ExistingImages, 4)
	for _, img := range result.ExistingImages {
		assert.Equal(t, "https://cdn.example.com/fresh/"+img.StorageKey, img.ImageURL)
	}
	assert.Equal(t, 4, signer.calls)
}

func TestProcessUploadRejectedEventOnFailure(t *testing.T) {
	events := &fakeEvents{}
	orch, _ := newTestOrchestrator(newFakeStore(), &fakeGateway{}, events)

	_, err := orch.ProcessUpload(context.Background(), testUser(), "Haerin", "NewJeans", nil, uuid.NewString())
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, []string{"rejected"}, events.published())
}
