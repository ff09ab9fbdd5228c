package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/agentmem/memoryd/internal/apperr"
	"github.com/agentmem/memoryd/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(concurrency int) *Dispatcher {
	return New(Deps{Concurrency: concurrency, CallTimeout: 200 * time.Millisecond})
}

func TestAcquire_BlocksPastConcurrencyLimit(t *testing.T) {
	d := newTestDispatcher(1)
	release, err := d.acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = d.acquire(context.Background())
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.Busy, appErr.Kind)
}

func TestRecordError_SkipsNotFoundAndCancelled(t *testing.T) {
	d := newTestDispatcher(4)
	d.recordError("get", apperr.New(apperr.NotFound, "missing"))
	d.recordError("get", apperr.New(apperr.Cancelled, "cancelled"))
	assert.Empty(t, d.StatsErrors(context.Background()))

	d.recordError("get", apperr.New(apperr.Fatal, "boom"))
	errs := d.StatsErrors(context.Background())
	require.Len(t, errs, 1)
	assert.Equal(t, apperr.Fatal, errs[0].Kind)
}

func TestRecordError_RingBufferCaps(t *testing.T) {
	d := newTestDispatcher(4)
	for i := 0; i < errRingCapacity+10; i++ {
		d.recordError("get", apperr.New(apperr.Fatal, "boom"))
	}
	assert.Len(t, d.StatsErrors(context.Background()), errRingCapacity)
}

func TestEmit_DropsOldestWhenFull(t *testing.T) {
	d := &Dispatcher{events: make(chan LifecycleEvent, 2)}
	d.emit("memory:created", "a")
	d.emit("memory:created", "b")
	d.emit("memory:created", "c")
	first := <-d.events
	assert.Equal(t, "b", first.MemoryID)
}

func TestRenderExport_JSONAndMarkdown(t *testing.T) {
	items := []model.MemoryItem{{ID: "mem_1", Type: model.MemoryTypeSemantic, Content: "hi", Importance: 0.5}}
	data, err := renderExport("json", items)
	require.NoError(t, err)
	assert.Contains(t, data, "mem_1")

	md, err := renderExport("markdown", items)
	require.NoError(t, err)
	assert.Contains(t, md, "| mem_1 |")
}

func TestRenderExport_UnsupportedFormat(t *testing.T) {
	_, err := renderExport("xml", nil)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.Validation, appErr.Kind)
}
