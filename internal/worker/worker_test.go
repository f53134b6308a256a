package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealstreet/media-worker/internal/blob"
	"github.com/dealstreet/media-worker/internal/gateway"
	"github.com/dealstreet/media-worker/internal/queue"
)

type fakeStore struct {
	objects map[string][]byte
	puts    []blob.PutInput
	deleted []string
	getErr  error
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blob.ErrObjectNotFound, key)
	}
	return data, nil
}

func (s *fakeStore) Put(ctx context.Context, in blob.PutInput) (blob.Stored, error) {
	if s.putErr != nil {
		return blob.Stored{}, s.putErr
	}
	s.puts = append(s.puts, in)
	s.objects[in.Key] = in.Data
	return blob.Stored{Key: in.Key, URL: "https://cdn.test/" + in.Key}, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	delete(s.objects, key)
	return nil
}

type fakeGateway struct {
	status       map[int64]gateway.Status
	history      []gateway.Status
	commits      []gateway.Result
	ownerDeleted bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{status: make(map[int64]gateway.Status)}
}

func (g *fakeGateway) Status(ctx context.Context, fileID int64) (gateway.Status, error) {
	st, ok := g.status[fileID]
	if !ok {
		return "", gateway.ErrRecordNotFound
	}
	return st, nil
}

func (g *fakeGateway) SetStatus(ctx context.Context, fileID int64, status gateway.Status) error {
	if _, ok := g.status[fileID]; !ok {
		return gateway.ErrRecordNotFound
	}
	g.status[fileID] = status
	g.history = append(g.history, status)
	return nil
}

func (g *fakeGateway) CommitResult(ctx context.Context, ownerID, fileID int64, res gateway.Result) error {
	if g.ownerDeleted {
		return gateway.ErrRecordNotFound
	}
	if _, ok := g.status[fileID]; !ok {
		return gateway.ErrRecordNotFound
	}
	g.status[fileID] = gateway.StatusReady
	g.history = append(g.history, gateway.StatusReady)
	g.commits = append(g.commits, res)
	return nil
}

type passthroughDocs struct{}

func (passthroughDocs) Optimize(ctx context.Context, data []byte, ext string) []byte {
	return data
}

func newTestWorker(store *fakeStore, gw *fakeGateway) *Worker {
	w := New(store, passthroughDocs{})
	w.Register(queue.KindHeroSmall, gw)
	w.Register(queue.KindHeroLarge, gw)
	w.Register(queue.KindImageOptimize, gw)
	w.Register(queue.KindDocumentAttachment, gw)
	return w
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jpegBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestHandleHeroSmall(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	w := newTestWorker(store, gw)

	original := jpegBytes(t, 640, 480)
	store.objects["links/2024-orig.jpg"] = original
	gw.status[7] = gateway.StatusQueued

	job := queue.Job{Kind: queue.KindHeroSmall, OwnerEntityID: 42, FileRecordID: 7, SourceKey: "links/2024-orig.jpg"}
	require.NoError(t, w.Handle(context.Background(), discardLogger(), job, 1))

	require.Len(t, gw.commits, 1)
	res := gw.commits[0]
	assert.Equal(t, "links/2024-orig.webp", res.ProcessedKey)
	assert.Equal(t, "https://cdn.test/links/2024-orig.webp", res.URL)
	assert.Equal(t, 400, res.Width)
	assert.Equal(t, 300, res.Height)
	assert.Equal(t, gateway.StatusReady, gw.status[7])

	// The original upload is untouched.
	assert.Equal(t, original, store.objects["links/2024-orig.jpg"])
	require.Len(t, store.puts, 1)
	assert.True(t, store.puts[0].Cacheable)
	assert.Equal(t, "image/webp", store.puts[0].ContentType)
}

func TestHandleSkipsSettledFile(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	w := newTestWorker(store, gw)

	store.objects["links/2024-orig.jpg"] = jpegBytes(t, 640, 480)
	gw.status[7] = gateway.StatusReady

	job := queue.Job{Kind: queue.KindHeroSmall, OwnerEntityID: 42, FileRecordID: 7, SourceKey: "links/2024-orig.jpg"}
	require.NoError(t, w.Handle(context.Background(), discardLogger(), job, 2))

	assert.Empty(t, store.puts, "redelivery must not write")
	assert.Empty(t, gw.commits, "redelivery must not commit")
	assert.Equal(t, gateway.StatusReady, gw.status[7])
}

func TestHandleStatusNeverMovesBackward(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	w := newTestWorker(store, gw)

	store.objects["links/a.jpg"] = jpegBytes(t, 100, 100)
	gw.status[1] = gateway.StatusQueued

	job := queue.Job{Kind: queue.KindHeroSmall, OwnerEntityID: 1, FileRecordID: 1, SourceKey: "links/a.jpg"}
	require.NoError(t, w.Handle(context.Background(), discardLogger(), job, 1))
	require.NoError(t, w.Handle(context.Background(), discardLogger(), job, 2))
	require.NoError(t, w.Handle(context.Background(), discardLogger(), job, 3))

	order := map[gateway.Status]int{
		gateway.StatusProcessing: 1,
		gateway.StatusReady:      2,
		gateway.StatusFailed:     2,
	}
	for i := 1; i < len(gw.history); i++ {
		assert.GreaterOrEqual(t, order[gw.history[i]], order[gw.history[i-1]],
			"transition %v -> %v moves backward", gw.history[i-1], gw.history[i])
	}
	assert.Equal(t, gateway.StatusReady, gw.status[1])
}

func TestHandleMissingRecordDiscards(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	w := newTestWorker(store, gw)

	job := queue.Job{Kind: queue.KindHeroSmall, OwnerEntityID: 42, FileRecordID: 999, SourceKey: "links/x.jpg"}
	err := w.Handle(context.Background(), discardLogger(), job, 1)

	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err), "missing record must not be retried")
	assert.Empty(t, store.puts)
}

func TestHandleMissingSourceIsTerminal(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	w := newTestWorker(store, gw)

	gw.status[7] = gateway.StatusQueued

	job := queue.Job{Kind: queue.KindHeroSmall, OwnerEntityID: 42, FileRecordID: 7, SourceKey: "links/deleted.jpg"}
	err := w.Handle(context.Background(), discardLogger(), job, 1)

	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
	assert.Equal(t, gateway.StatusFailed, gw.status[7])
}

func TestHandleOwnerDeletedMidFlight(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	gw.ownerDeleted = true
	w := newTestWorker(store, gw)

	store.objects["deals/5/photo.jpg"] = jpegBytes(t, 300, 200)
	gw.status[5] = gateway.StatusQueued

	job := queue.Job{Kind: queue.KindImageOptimize, OwnerEntityID: 9, FileRecordID: 5, SourceKey: "deals/5/photo.jpg"}
	err := w.Handle(context.Background(), discardLogger(), job, 1)

	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))

	// The processed object written before the failed commit is gone.
	require.Len(t, store.deleted, 1)
	_, stillThere := store.objects[store.deleted[0]]
	assert.False(t, stillThere)
}

func TestHandleDocumentBestEffort(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	w := newTestWorker(store, gw)

	pdf := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")
	store.objects["deals/3/terms.pdf"] = pdf
	gw.status[3] = gateway.StatusQueued

	job := queue.Job{Kind: queue.KindDocumentAttachment, OwnerEntityID: 3, FileRecordID: 3, SourceKey: "deals/3/terms.pdf"}
	require.NoError(t, w.Handle(context.Background(), discardLogger(), job, 1))

	// Pass-through: original bytes stored unchanged under the same key.
	require.Len(t, gw.commits, 1)
	assert.Equal(t, "deals/3/terms.pdf", gw.commits[0].ProcessedKey)
	assert.Equal(t, pdf, store.objects["deals/3/terms.pdf"])
	assert.Equal(t, gateway.StatusReady, gw.status[3])
}

func TestHandleTransientReadErrorPropagates(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	w := newTestWorker(store, gw)

	store.getErr = errors.New("connection reset")
	gw.status[7] = gateway.StatusQueued

	job := queue.Job{Kind: queue.KindHeroSmall, OwnerEntityID: 42, FileRecordID: 7, SourceKey: "links/a.jpg"}
	err := w.Handle(context.Background(), discardLogger(), job, 1)

	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err), "transport errors stay retryable")
	assert.Equal(t, gateway.StatusProcessing, gw.status[7], "row stays in processing for the redelivery")

	// Redelivery after the transient failure succeeds from PROCESSING.
	store.getErr = nil
	store.objects["links/a.jpg"] = jpegBytes(t, 500, 500)
	require.NoError(t, w.Handle(context.Background(), discardLogger(), job, 2))
	assert.Equal(t, gateway.StatusReady, gw.status[7])
}

func TestHandleUnknownKindDiscards(t *testing.T) {
	store := newFakeStore()
	w := New(store, passthroughDocs{})

	job := queue.Job{Kind: "video-transcode", OwnerEntityID: 1, FileRecordID: 1, SourceKey: "x.mp4"}
	err := w.Handle(context.Background(), discardLogger(), job, 1)

	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}

func TestMarkFailedSwallowsMissingRecord(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	w := newTestWorker(store, gw)

	// Record 404 must not panic or error; the record may be gone.
	job := queue.Job{Kind: queue.KindHeroSmall, OwnerEntityID: 1, FileRecordID: 404, SourceKey: "x.jpg"}
	w.MarkFailed(context.Background(), discardLogger(), job)

	gw.status[2] = gateway.StatusProcessing
	job.FileRecordID = 2
	w.MarkFailed(context.Background(), discardLogger(), job)
	assert.Equal(t, gateway.StatusFailed, gw.status[2])
}
